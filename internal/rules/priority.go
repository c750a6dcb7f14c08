// internal/rules/priority.go
package rules

import (
	"sort"

	"github.com/commissiontracker/underwriter/internal/types"
)

type specificity struct {
	decline bool
	leaves  int
	cost    int
	desc    int
}

// AssignPriorities orders rules for first-match evaluation and numbers them
// 1..n. Declines come first, then more specific predicates (more conditions,
// then higher cost), then longer descriptions. Remaining ties keep input
// order. The input slice is not modified.
func AssignPriorities(rules []types.Rule) []types.Rule {
	keys := make([]specificity, len(rules))
	idx := make([]int, len(rules))
	for i := range rules {
		r := &rules[i]
		keys[i] = specificity{
			decline: r.Outcome.IsDecline(),
			leaves:  LeafCount(r.Predicate.Root),
			cost:    Cost(r.Predicate.Root),
			desc:    len(r.Description),
		}
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		if ka.decline != kb.decline {
			return ka.decline
		}
		if ka.leaves != kb.leaves {
			return ka.leaves > kb.leaves
		}
		if ka.cost != kb.cost {
			return ka.cost > kb.cost
		}
		return ka.desc > kb.desc
	})

	out := make([]types.Rule, len(rules))
	for pos, i := range idx {
		out[pos] = rules[i]
		out[pos].Priority = pos + 1
	}
	return out
}
