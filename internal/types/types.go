// Package types provides domain models shared across underwriter components.
//
// Zero-dependency design: everything except ids.go uses only the standard
// library so the predicate model can be embedded by intake services without
// pulling in the engine, storage, or transport stacks.
//
// Wire format: predicates persist as JSON. The codec in codec.go is the only
// place that knows the wire shape; the rest of the module works on the typed
// Node tree.
package types

// FactSet is the collection of facts about one applicant.
// Keys are dotted field keys ("client.age", "diabetes_type_2.a1c") or nested
// maps addressed by the same dotted path. The declared condition codes live
// under the "conditions" key as a list of strings.
type FactSet map[string]any

// Resource limits enforced by the validator and the evaluator.
const (
	// MaxPredicateDepth bounds recursion over a predicate tree.
	// 32 levels is far beyond any hand-authored rule.
	MaxPredicateDepth = 32

	// MaxPredicateNodes bounds the total node count of a single predicate.
	MaxPredicateNodes = 1024

	// MaxListValues bounds set/array/presence value lists.
	// Sized to hold every condition code in the catalog.
	MaxListValues = 128

	// MaxPathDepth bounds nested fact lookups.
	MaxPathDepth = 16
)

// PredicateVersion is the current predicate wire version.
// Version 1 documents (a bare root node) are upgraded on decode.
const PredicateVersion = 2
