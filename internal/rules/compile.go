// internal/rules/compile.go
package rules

import (
	"sort"

	"github.com/commissiontracker/underwriter/internal/types"
)

/*
 * Rule compilation.
 *
 * Compile validates a rule against the registry before the engine runs it.
 * Rule sets arrive inline from callers as well as from the store, so a rule
 * with a bad priority or outcome is rejected here rather than evaluated.
 * Compilation happens per resolution so a registry change is seen by the
 * next call without cache invalidation.
 *
 * Candidates flatten active rules across rule sets and order them by
 * ascending priority. The sort is stable: equal priorities keep rule set
 * order, then rule order within a set, so the first match is deterministic.
 */

// CompiledRule is a validated rule ready for evaluation.
type CompiledRule struct {
	Rule *types.Rule
}

// Compile validates rule against fields: the predicate plus the rule's
// priority, outcome and applicability filters.
// Returns types.ValidationErrors when the rule is invalid.
func Compile(rule *types.Rule, fields FieldResolver) (*CompiledRule, error) {
	if err := ValidateRule(rule, fields); err != nil {
		return nil, err
	}
	return &CompiledRule{Rule: rule}, nil
}

type candidate struct {
	rule *types.Rule
	set  *types.RuleSet
}

// candidates flattens active rules in evaluation order.
func candidates(ruleSets []types.RuleSet) []candidate {
	var out []candidate
	for si := range ruleSets {
		rs := &ruleSets[si]
		for ri := range rs.Rules {
			if rs.Rules[ri].IsActive {
				out = append(out, candidate{rule: &rs.Rules[ri], set: rs})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].rule.Priority < out[j].rule.Priority
	})
	return out
}
