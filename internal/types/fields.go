// internal/types/fields.go
package types

/*
 * Field types, condition kinds, and operator families.
 *
 * A FieldType describes what a registry field holds. A ConditionKind is the
 * "type" tag a predicate leaf carries; it selects the operator family and the
 * evaluator. Kinds map onto field types one-to-one except:
 *   - set conditions also apply to string fields (state in [NY, CA])
 *   - condition_presence only applies to the declared conditions list
 *   - null_check applies to any field
 */

// FieldType is the type of a registry field.
type FieldType string

const (
	FieldNumeric   FieldType = "numeric"
	FieldDate      FieldType = "date"
	FieldBoolean   FieldType = "boolean"
	FieldString    FieldType = "string"
	FieldSet       FieldType = "set"
	FieldArray     FieldType = "array"
	FieldNullCheck FieldType = "null_check"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldNumeric, FieldDate, FieldBoolean, FieldString, FieldSet, FieldArray, FieldNullCheck:
		return true
	}
	return false
}

// ConditionKind is the "type" tag of a predicate leaf.
type ConditionKind string

const (
	KindNumeric   ConditionKind = "numeric"
	KindDate      ConditionKind = "date"
	KindBoolean   ConditionKind = "boolean"
	KindString    ConditionKind = "string"
	KindSet       ConditionKind = "set"
	KindArray     ConditionKind = "array"
	KindPresence  ConditionKind = "condition_presence"
	KindNullCheck ConditionKind = "null_check"
)

// Operator is a comparison operator within a kind's family.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpBetween Operator = "between"

	OpYearsSinceLte  Operator = "years_since_lte"
	OpYearsSinceGte  Operator = "years_since_gte"
	OpMonthsSinceLte Operator = "months_since_lte"
	OpMonthsSinceGte Operator = "months_since_gte"

	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"

	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"

	OpIncludesAny Operator = "includes_any"
	OpIncludesAll Operator = "includes_all"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"

	OpIsNull    Operator = "is_null"
	OpIsNotNull Operator = "is_not_null"
)

var comparisonOps = []Operator{OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpBetween}

var operatorFamilies = map[ConditionKind][]Operator{
	KindNumeric: comparisonOps,
	// Comparators on a date apply to whole years elapsed since it.
	KindDate: append([]Operator{OpYearsSinceLte, OpYearsSinceGte, OpMonthsSinceLte, OpMonthsSinceGte},
		comparisonOps...),
	KindBoolean:   {OpEq, OpNeq},
	KindString:    {OpEq, OpNeq, OpContains, OpStartsWith, OpEndsWith},
	KindSet:       {OpIn, OpNotIn},
	KindArray:     {OpIncludesAny, OpIncludesAll, OpIsEmpty, OpIsNotEmpty},
	KindPresence:  {OpIncludesAny, OpIncludesAll},
	KindNullCheck: {OpIsNull, OpIsNotNull},
}

// Valid reports whether k is a known condition kind.
func (k ConditionKind) Valid() bool {
	_, ok := operatorFamilies[k]
	return ok
}

// Operators returns a copy of the kind's operator family.
func (k ConditionKind) Operators() []Operator {
	return append([]Operator(nil), operatorFamilies[k]...)
}

// Allows reports whether op belongs to the kind's family.
func (k ConditionKind) Allows(op Operator) bool {
	for _, o := range operatorFamilies[k] {
		if o == op {
			return true
		}
	}
	return false
}

// AcceptsFieldType reports whether a condition of kind k may reference a field of type t.
// Presence is checked against the conditions field separately.
func (k ConditionKind) AcceptsFieldType(t FieldType) bool {
	switch k {
	case KindNullCheck:
		return t.Valid()
	case KindPresence:
		return t == FieldArray
	case KindSet:
		return t == FieldSet || t == FieldString
	case KindNumeric:
		return t == FieldNumeric
	case KindDate:
		return t == FieldDate
	case KindBoolean:
		return t == FieldBoolean
	case KindString:
		return t == FieldString
	case KindArray:
		return t == FieldArray
	}
	return false
}

// KindFor returns the natural condition kind for a field type.
func KindFor(t FieldType) ConditionKind {
	switch t {
	case FieldNumeric:
		return KindNumeric
	case FieldDate:
		return KindDate
	case FieldBoolean:
		return KindBoolean
	case FieldString:
		return KindString
	case FieldSet:
		return KindSet
	case FieldArray:
		return KindArray
	}
	return KindNullCheck
}
