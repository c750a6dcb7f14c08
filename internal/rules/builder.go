// internal/rules/builder.go
package rules

import (
	"github.com/commissiontracker/underwriter/internal/registry"
	"github.com/commissiontracker/underwriter/internal/types"
)

// Builders for predicate trees in Go code and tests.
// They construct nodes only; Validate still decides whether a tree is legal.

// All matches when every child matches.
func All(children ...types.Node) *types.Group {
	return &types.Group{Combinator: types.CombinatorAll, Children: children}
}

// Any matches when at least one child matches.
func Any(children ...types.Node) *types.Group {
	return &types.Group{Combinator: types.CombinatorAny, Children: children}
}

// Not negates child.
func Not(child types.Node) *types.Group {
	return &types.Group{Combinator: types.CombinatorNot, Children: []types.Node{child}}
}

// NewPredicate wraps root in a current-version predicate.
func NewPredicate(root types.Node) types.Predicate {
	return types.Predicate{Version: types.PredicateVersion, Root: root}
}

// Numeric compares a numeric field with n.
func Numeric(field string, op types.Operator, n float64) *types.Condition {
	return &types.Condition{Kind: types.KindNumeric, Field: field, Operator: op, Value: types.NumberValue(n)}
}

// Between matches low <= field <= high.
func Between(field string, low, high float64) *types.Condition {
	return &types.Condition{Kind: types.KindNumeric, Field: field, Operator: types.OpBetween, Value: types.RangeValue(low, high)}
}

// Elapsed compares whole years or months since a date field with n.
func Elapsed(field string, op types.Operator, n int) *types.Condition {
	return &types.Condition{Kind: types.KindDate, Field: field, Operator: op, Value: types.NumberValue(float64(n))}
}

// Boolean matches field == b.
func Boolean(field string, b bool) *types.Condition {
	return &types.Condition{Kind: types.KindBoolean, Field: field, Operator: types.OpEq, Value: types.BoolValue(b)}
}

// Text compares a string field with s.
func Text(field string, op types.Operator, s string) *types.Condition {
	return &types.Condition{Kind: types.KindString, Field: field, Operator: op, Value: types.StringValue(s)}
}

// In matches when the field's value is one of values.
func In(field string, values ...string) *types.Condition {
	return &types.Condition{Kind: types.KindSet, Field: field, Operator: types.OpIn, Value: types.ListValue(values...)}
}

// NotIn matches when the field's value is none of values.
func NotIn(field string, values ...string) *types.Condition {
	return &types.Condition{Kind: types.KindSet, Field: field, Operator: types.OpNotIn, Value: types.ListValue(values...)}
}

// Includes applies includes_any or includes_all to an array field.
func Includes(field string, op types.Operator, values ...string) *types.Condition {
	return &types.Condition{Kind: types.KindArray, Field: field, Operator: op, Value: types.ListValue(values...)}
}

// Empty applies is_empty or is_not_empty to an array field.
func Empty(field string, op types.Operator) *types.Condition {
	return &types.Condition{Kind: types.KindArray, Field: field, Operator: op, Value: types.NoValue()}
}

// HasAnyCondition matches when any of codes is declared.
func HasAnyCondition(codes ...string) *types.Condition {
	return &types.Condition{Kind: types.KindPresence, Field: registry.ConditionsField, Operator: types.OpIncludesAny, Value: types.ListValue(codes...)}
}

// HasAllConditions matches when every one of codes is declared.
func HasAllConditions(codes ...string) *types.Condition {
	return &types.Condition{Kind: types.KindPresence, Field: registry.ConditionsField, Operator: types.OpIncludesAll, Value: types.ListValue(codes...)}
}

// IsNull matches when field is absent.
func IsNull(field string) *types.Condition {
	return &types.Condition{Kind: types.KindNullCheck, Field: field, Operator: types.OpIsNull}
}

// IsNotNull matches when field is present.
func IsNotNull(field string) *types.Condition {
	return &types.Condition{Kind: types.KindNullCheck, Field: field, Operator: types.OpIsNotNull}
}
