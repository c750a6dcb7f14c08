// internal/types/predicate.go
package types

import (
	"strconv"
	"strings"
)

/*
 * Predicate model.
 *
 * A predicate is a tree of Nodes. Node is a closed sum of *Condition (leaf)
 * and *Group (all/any/not); the unexported marker method keeps other packages
 * from adding variants, so a type switch over the two cases is exhaustive.
 *
 * Condition values are a tagged union keyed by Shape. The operator determines
 * the expected shape (see ExpectedShape); the validator rejects mismatches so
 * the evaluator can read the matching member without re-checking.
 */

// Node is a predicate tree node: *Condition or *Group.
type Node interface {
	predicateNode()
}

// NullHandling selects the result of a condition whose fact is absent.
type NullHandling string

const (
	// NullDefault behaves as NullTreatAsFalse.
	NullDefault      NullHandling = ""
	NullTreatAsFalse NullHandling = "treat_as_false"
	NullTreatAsTrue  NullHandling = "treat_as_true"
	NullError        NullHandling = "error"
)

// Valid reports whether h is a known mode.
func (h NullHandling) Valid() bool {
	switch h {
	case NullDefault, NullTreatAsFalse, NullTreatAsTrue, NullError:
		return true
	}
	return false
}

// ParseNullHandling maps wire values, including legacy spellings, to a mode.
// "fail" is the legacy name of treat_as_false and "unknown" of error.
func ParseNullHandling(s string) (NullHandling, bool) {
	switch s {
	case "":
		return NullDefault, true
	case string(NullTreatAsFalse), "fail":
		return NullTreatAsFalse, true
	case string(NullTreatAsTrue):
		return NullTreatAsTrue, true
	case string(NullError), "unknown":
		return NullError, true
	}
	return NullHandling(s), false
}

// Condition is a predicate leaf.
type Condition struct {
	Kind         ConditionKind
	Field        string
	Operator     Operator
	Value        Value
	NullHandling NullHandling
}

func (*Condition) predicateNode() {}

// WithNullHandling sets the null handling mode and returns c for chaining.
func (c *Condition) WithNullHandling(h NullHandling) *Condition {
	c.NullHandling = h
	return c
}

// Combinator selects how a group combines its children.
type Combinator string

const (
	CombinatorAll Combinator = "all"
	CombinatorAny Combinator = "any"
	CombinatorNot Combinator = "not"
)

// Group is an interior node. all/any hold one or more children; not holds exactly one.
type Group struct {
	Combinator Combinator
	Children   []Node
}

func (*Group) predicateNode() {}

// Predicate is a versioned predicate tree.
type Predicate struct {
	Version int
	Root    Node
}

// Shape tags the populated member of a Value.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeNumber
	ShapeRange
	ShapeBool
	ShapeString
	ShapeList
)

func (s Shape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapeNumber:
		return "number"
	case ShapeRange:
		return "range"
	case ShapeBool:
		return "boolean"
	case ShapeString:
		return "string"
	case ShapeList:
		return "list"
	}
	return "shape(" + strconv.Itoa(int(s)) + ")"
}

// Value is the comparison value of a condition.
type Value struct {
	Shape  Shape
	Number float64
	Low    float64
	High   float64
	Bool   bool
	String string
	List   []string
}

// NoValue is the value of operators that take none (is_null, is_empty).
func NoValue() Value { return Value{Shape: ShapeNone} }

// NumberValue returns a scalar numeric value.
func NumberValue(f float64) Value { return Value{Shape: ShapeNumber, Number: f} }

// RangeValue returns an inclusive [low, high] range.
func RangeValue(low, high float64) Value { return Value{Shape: ShapeRange, Low: low, High: high} }

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{Shape: ShapeBool, Bool: b} }

// StringValue returns a text value.
func StringValue(s string) Value { return Value{Shape: ShapeString, String: s} }

// ListValue returns a list of text values.
func ListValue(items ...string) Value {
	return Value{Shape: ShapeList, List: append([]string(nil), items...)}
}

// Describe renders the value for logs and error details.
func (v Value) Describe() string {
	switch v.Shape {
	case ShapeNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ShapeRange:
		return "[" + strconv.FormatFloat(v.Low, 'f', -1, 64) + ", " + strconv.FormatFloat(v.High, 'f', -1, 64) + "]"
	case ShapeBool:
		return strconv.FormatBool(v.Bool)
	case ShapeString:
		return strconv.Quote(v.String)
	case ShapeList:
		return "[" + strings.Join(v.List, ", ") + "]"
	}
	return "none"
}

// ExpectedShape returns the value shape an operator requires within a kind.
// ok is false when op is outside the kind's family.
func ExpectedShape(kind ConditionKind, op Operator) (shape Shape, ok bool) {
	if !kind.Allows(op) {
		return ShapeNone, false
	}
	switch kind {
	case KindNumeric, KindDate:
		if op == OpBetween {
			return ShapeRange, true
		}
		return ShapeNumber, true
	case KindBoolean:
		return ShapeBool, true
	case KindString:
		return ShapeString, true
	case KindSet, KindPresence:
		return ShapeList, true
	case KindArray:
		if op == OpIsEmpty || op == OpIsNotEmpty {
			return ShapeNone, true
		}
		return ShapeList, true
	}
	return ShapeNone, true
}
