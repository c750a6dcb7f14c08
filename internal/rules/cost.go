// internal/rules/cost.go
package rules

import "github.com/commissiontracker/underwriter/internal/types"

/*
 * Cost model for predicates.
 *
 * Cost approximates how much work a predicate does per evaluation and how
 * specific it is. The import path uses it to order rules that arrive without
 * priorities: a predicate with more conditions narrows the population more
 * and is tried before a broader one.
 *
 * cost = sum over conditions of (lookup + operator cost * list factor)
 *      + group overhead per interior node
 *
 * List factor is the value list length for membership operators, since each
 * item is compared.
 */

const (
	// Operator base costs
	CostNullCheck = 1
	CostPresence  = 2
	CostEq        = 5
	CostCompare   = 7
	CostBetween   = 8
	CostMember    = 8
	CostText      = 10
	CostDate      = 12

	// Fact lookup cost per condition
	CostLookup = 16

	// Overhead per all/any/not node
	CostGroup = 2
)

// Cost returns the evaluation cost of a predicate tree.
func Cost(n types.Node) int {
	switch n := n.(type) {
	case *types.Condition:
		if n == nil {
			return 0
		}
		return conditionCost(n)
	case *types.Group:
		if n == nil {
			return 0
		}
		total := CostGroup
		for _, child := range n.Children {
			total += Cost(child)
		}
		return total
	}
	return 0
}

// LeafCount returns the number of conditions in a predicate tree.
func LeafCount(n types.Node) int {
	switch n := n.(type) {
	case *types.Condition:
		if n == nil {
			return 0
		}
		return 1
	case *types.Group:
		if n == nil {
			return 0
		}
		count := 0
		for _, child := range n.Children {
			count += LeafCount(child)
		}
		return count
	}
	return 0
}

func conditionCost(c *types.Condition) int {
	listFactor := 1
	if c.Value.Shape == types.ShapeList && len(c.Value.List) > 1 {
		listFactor = len(c.Value.List)
	}
	return CostLookup + operatorCost(c.Kind, c.Operator)*listFactor
}

// operatorCost returns the base cost for op within kind.
func operatorCost(kind types.ConditionKind, op types.Operator) int {
	switch kind {
	case types.KindNullCheck:
		return CostNullCheck
	case types.KindPresence:
		return CostPresence
	case types.KindDate:
		return CostDate
	case types.KindSet, types.KindArray:
		return CostMember
	}
	switch op {
	case types.OpEq, types.OpNeq:
		return CostEq
	case types.OpLt, types.OpLte, types.OpGt, types.OpGte:
		return CostCompare
	case types.OpBetween:
		return CostBetween
	case types.OpContains, types.OpStartsWith, types.OpEndsWith:
		return CostText
	}
	return CostEq
}
