// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for underwriting operations.
var (
	// ErrUnknownField indicates a field key absent from the registry.
	ErrUnknownField = errors.New("unknown field")

	// ErrMissingFact indicates a fact required by a condition is absent.
	ErrMissingFact = errors.New("missing fact")

	// ErrInvalidOperator indicates an operator outside the condition's family.
	ErrInvalidOperator = errors.New("operator not permitted for condition type")

	// ErrKindMismatch indicates a condition type incompatible with the field type.
	ErrKindMismatch = errors.New("condition type incompatible with field type")

	// ErrUnknownKind indicates an unrecognised condition type.
	ErrUnknownKind = errors.New("unknown condition type")

	// ErrUnknownCombinator indicates a group that is not all/any/not.
	ErrUnknownCombinator = errors.New("unknown group combinator")

	// ErrUnknownOption indicates a list value outside the field's options.
	ErrUnknownOption = errors.New("value is not an option of the field")

	// ErrValueShape indicates a value whose shape does not match the operator.
	ErrValueShape = errors.New("value does not match operator")

	// ErrInvalidRange indicates a between range with lower bound above upper bound.
	ErrInvalidRange = errors.New("range lower bound exceeds upper bound")

	// ErrInvalidThreshold indicates a negative or fractional elapsed-time threshold.
	ErrInvalidThreshold = errors.New("threshold must be a non-negative whole number")

	// ErrGroupArity indicates an empty all/any group or a not group without exactly one child.
	ErrGroupArity = errors.New("invalid number of group children")

	// ErrEmptyPredicate indicates a predicate without a root node.
	ErrEmptyPredicate = errors.New("predicate is empty")

	// ErrUnsupportedVersion indicates a predicate wire version this build cannot read.
	ErrUnsupportedVersion = errors.New("unsupported predicate version")

	// ErrPredicateTooDeep indicates a predicate exceeding MaxPredicateDepth or MaxPredicateNodes.
	ErrPredicateTooDeep = errors.New("predicate exceeds size limits")

	// ErrPredicateCycle indicates a group reachable from itself.
	ErrPredicateCycle = errors.New("predicate contains a cycle")

	// ErrMalformedPredicate indicates a structurally invalid predicate document.
	ErrMalformedPredicate = errors.New("malformed predicate")

	// ErrInvalidNullHandling indicates an unrecognised null handling mode.
	ErrInvalidNullHandling = errors.New("invalid null handling")

	// ErrCoercionFailed indicates a fact value could not be coerced to the field type.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrInvalidPriority indicates a rule priority below 1.
	ErrInvalidPriority = errors.New("priority must be at least 1")

	// ErrInvalidOutcome indicates an outcome with unknown enum values.
	ErrInvalidOutcome = errors.New("invalid outcome")

	// ErrInvalidAgeBand indicates an age band with min above max or negative bounds.
	ErrInvalidAgeBand = errors.New("invalid age band")

	// ErrInvalidGender indicates a gender filter other than male or female.
	ErrInvalidGender = errors.New("invalid gender")

	// ErrInvalidScope indicates a rule set without a carrier.
	ErrInvalidScope = errors.New("invalid rule set scope")

	// ErrInvalidID indicates a rule or rule set id that is not a UUID.
	ErrInvalidID = errors.New("invalid id")

	// ErrRuleNotFound indicates a rule id absent from storage.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleSetNotFound indicates a rule set id absent from storage.
	ErrRuleSetNotFound = errors.New("rule set not found")
)

// UnknownFieldError reports a field key the registry cannot resolve.
type UnknownFieldError struct {
	Category string
	Field    string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q in category %q", e.Field, e.Category)
}

// Is matches ErrUnknownField.
func (e *UnknownFieldError) Is(target error) bool {
	return target == ErrUnknownField
}

// MissingFactError reports an absent fact under the error null handling mode.
type MissingFactError struct {
	Field string
}

func (e *MissingFactError) Error() string {
	return fmt.Sprintf("missing fact %q", e.Field)
}

// Is matches ErrMissingFact.
func (e *MissingFactError) Is(target error) bool {
	return target == ErrMissingFact
}

// ValidationError locates one problem in a predicate or rule.
// Path is a JSON-pointer-like location ("/root/all/0/operator").
type ValidationError struct {
	Path   string
	Field  string
	Err    error
	Detail string
}

func (e ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Path)
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// ValidationErrors accumulates every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e), strings.Join(msgs, "; "))
}

// Unwrap exposes each entry to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, ve := range e {
		errs[i] = ve
	}
	return errs
}

// Prefix returns a copy with every path prefixed, for nesting predicate errors
// under a rule or rule set location.
func (e ValidationErrors) Prefix(prefix string) ValidationErrors {
	out := make(ValidationErrors, len(e))
	for i, ve := range e {
		ve.Path = prefix + ve.Path
		out[i] = ve
	}
	return out
}
