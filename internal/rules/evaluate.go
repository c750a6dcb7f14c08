// internal/rules/evaluate.go
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/commissiontracker/underwriter/internal/types"
)

/*
 * Predicate evaluation.
 *
 * Evaluate walks the Node tree with short-circuit semantics: all stops at the
 * first false child, any at the first true child, not negates its only child.
 *
 * Per-condition flow:
 *   1. condition_presence reads the declared conditions list (absent = empty)
 *   2. look up the fact; null values count as absent
 *   3. null_check answers from presence alone
 *   4. absent facts defer to the condition's null handling
 *   5. coerce the fact to the kind's type; failure compares false
 *   6. apply the operator family
 *
 * Null handling:
 *   - treat_as_false (default): condition is false
 *   - treat_as_true: condition is true
 *   - error: evaluation aborts with *types.MissingFactError
 *
 * The error mode aborts the whole predicate, not just the enclosing group:
 * the engine skips a rule whose predicate cannot be decided.
 *
 * Evaluate is pure. The clock comes from EvalContext so date operators are
 * deterministic under test.
 */

// EvalContext carries evaluation inputs other than facts.
type EvalContext struct {
	// Now anchors date operators. Zero means time.Now().
	Now time.Time
}

func (c EvalContext) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// Evaluate decides node against facts.
// Errors are *types.MissingFactError under the error null handling mode, or
// a structural error for trees that bypassed validation.
func Evaluate(node types.Node, facts types.FactSet, ctx EvalContext) (bool, error) {
	return evaluateNode(node, facts, ctx.now(), 1)
}

func evaluateNode(node types.Node, facts types.FactSet, now time.Time, depth int) (bool, error) {
	if depth > types.MaxPredicateDepth {
		return false, types.ErrPredicateTooDeep
	}

	switch n := node.(type) {
	case *types.Condition:
		if n == nil {
			return false, types.ErrMalformedPredicate
		}
		return evaluateCondition(n, facts, now)

	case *types.Group:
		if n == nil {
			return false, types.ErrMalformedPredicate
		}
		switch n.Combinator {
		case types.CombinatorAll:
			if len(n.Children) == 0 {
				return false, types.ErrGroupArity
			}
			for _, child := range n.Children {
				ok, err := evaluateNode(child, facts, now, depth+1)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil

		case types.CombinatorAny:
			if len(n.Children) == 0 {
				return false, types.ErrGroupArity
			}
			for _, child := range n.Children {
				ok, err := evaluateNode(child, facts, now, depth+1)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil

		case types.CombinatorNot:
			if len(n.Children) != 1 {
				return false, types.ErrGroupArity
			}
			ok, err := evaluateNode(n.Children[0], facts, now, depth+1)
			if err != nil {
				return false, err
			}
			return !ok, nil
		}
		return false, fmt.Errorf("%w: %q", types.ErrUnknownCombinator, n.Combinator)
	}

	return false, types.ErrMalformedPredicate
}

func evaluateCondition(c *types.Condition, facts types.FactSet, now time.Time) (bool, error) {
	if c.Kind == types.KindPresence {
		declared := DeclaredConditions(facts)
		return compareList(c.Operator, declared, c.Value), nil
	}

	value, found := LookupFact(facts, c.Field)

	if c.Kind == types.KindNullCheck {
		switch c.Operator {
		case types.OpIsNull:
			return !found, nil
		case types.OpIsNotNull:
			return found, nil
		}
		return false, nil
	}

	if !found {
		return applyNullHandling(c)
	}

	matched, err := compareFact(c, value, now)
	if errors.Is(err, types.ErrCoercionFailed) {
		return false, nil
	}
	return matched, err
}

func compareFact(c *types.Condition, value any, now time.Time) (bool, error) {
	switch c.Kind {
	case types.KindNumeric:
		x, err := toNumber(value)
		if err != nil {
			return false, err
		}
		return compareNumber(c.Operator, x, c.Value), nil

	case types.KindDate:
		d, err := toDate(value)
		if err != nil {
			return false, err
		}
		return compareDate(c.Operator, d, now, c.Value), nil

	case types.KindBoolean:
		b, err := toBool(value)
		if err != nil {
			return false, err
		}
		return compareBool(c.Operator, b, c.Value), nil

	case types.KindString:
		s, err := toText(value)
		if err != nil {
			return false, err
		}
		return compareString(c.Operator, s, c.Value), nil

	case types.KindSet:
		s, err := toText(value)
		if err != nil {
			return false, err
		}
		return compareSet(c.Operator, s, c.Value), nil

	case types.KindArray:
		items, err := toStringList(value)
		if err != nil {
			return false, err
		}
		return compareList(c.Operator, items, c.Value), nil
	}
	return false, fmt.Errorf("%w: %q", types.ErrUnknownKind, c.Kind)
}

// applyNullHandling resolves a condition whose fact is absent.
func applyNullHandling(c *types.Condition) (bool, error) {
	switch c.NullHandling {
	case types.NullTreatAsTrue:
		return true, nil
	case types.NullError:
		return false, &types.MissingFactError{Field: c.Field}
	default:
		return false, nil
	}
}
