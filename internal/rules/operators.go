// internal/rules/operators.go
package rules

import (
	"strings"
	"time"

	"github.com/commissiontracker/underwriter/internal/types"
)

/*
 * Operator families.
 *
 * One function per condition kind. Values reaching these functions are
 * already coerced and the operator/value shape pair is already validated, so
 * each function reads the Value member its operator implies. An operator
 * outside the family compares false.
 *
 * Elapsed time is counted in whole calendar units: a date exactly five years
 * ago is 5 years since; one day short of that is 4. Both the fact date and
 * the evaluation clock are taken in UTC.
 *
 * String comparison is case-sensitive. Set and list membership compare the
 * text form of each value, so a numeric fact 2 is a member of ["2"].
 */

func compareNumber(op types.Operator, x float64, v types.Value) bool {
	switch op {
	case types.OpEq:
		return x == v.Number
	case types.OpNeq:
		return x != v.Number
	case types.OpLt:
		return x < v.Number
	case types.OpLte:
		return x <= v.Number
	case types.OpGt:
		return x > v.Number
	case types.OpGte:
		return x >= v.Number
	case types.OpBetween:
		return x >= v.Low && x <= v.High
	}
	return false
}

func compareDate(op types.Operator, d, now time.Time, v types.Value) bool {
	switch op {
	case types.OpYearsSinceLte:
		return float64(wholeYearsSince(d, now)) <= v.Number
	case types.OpYearsSinceGte:
		return float64(wholeYearsSince(d, now)) >= v.Number
	case types.OpMonthsSinceLte:
		return float64(wholeMonthsSince(d, now)) <= v.Number
	case types.OpMonthsSinceGte:
		return float64(wholeMonthsSince(d, now)) >= v.Number
	}
	return compareNumber(op, float64(wholeYearsSince(d, now)), v)
}

func compareBool(op types.Operator, b bool, v types.Value) bool {
	switch op {
	case types.OpEq:
		return b == v.Bool
	case types.OpNeq:
		return b != v.Bool
	}
	return false
}

func compareString(op types.Operator, s string, v types.Value) bool {
	switch op {
	case types.OpEq:
		return s == v.String
	case types.OpNeq:
		return s != v.String
	case types.OpContains:
		return strings.Contains(s, v.String)
	case types.OpStartsWith:
		return strings.HasPrefix(s, v.String)
	case types.OpEndsWith:
		return strings.HasSuffix(s, v.String)
	}
	return false
}

func compareSet(op types.Operator, s string, v types.Value) bool {
	switch op {
	case types.OpIn:
		return contains(v.List, s)
	case types.OpNotIn:
		return !contains(v.List, s)
	}
	return false
}

func compareList(op types.Operator, items []string, v types.Value) bool {
	switch op {
	case types.OpIsEmpty:
		return len(items) == 0
	case types.OpIsNotEmpty:
		return len(items) > 0
	case types.OpIncludesAny:
		for _, want := range v.List {
			if contains(items, want) {
				return true
			}
		}
		return false
	case types.OpIncludesAll:
		for _, want := range v.List {
			if !contains(items, want) {
				return false
			}
		}
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// wholeYearsSince counts complete calendar years from d to now.
// Negative when d is in the future.
func wholeYearsSince(d, now time.Time) int {
	d, now = d.UTC(), now.UTC()
	years := now.Year() - d.Year()
	if now.Month() < d.Month() || (now.Month() == d.Month() && now.Day() < d.Day()) {
		years--
	}
	return years
}

// wholeMonthsSince counts complete calendar months from d to now.
func wholeMonthsSince(d, now time.Time) int {
	d, now = d.UTC(), now.UTC()
	months := (now.Year()-d.Year())*12 + int(now.Month()) - int(d.Month())
	if now.Day() < d.Day() {
		months--
	}
	return months
}
