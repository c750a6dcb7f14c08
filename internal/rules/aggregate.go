// internal/rules/aggregate.go
package rules

import (
	"strings"

	"github.com/commissiontracker/underwriter/internal/types"
)

// Aggregate combines outcomes worst-of: the worst eligibility, the worst
// health class, and the highest table rating. Reasons are joined in input
// order and concerns are de-duplicated. Returns the zero Outcome for no input.
func Aggregate(outcomes ...types.Outcome) types.Outcome {
	if len(outcomes) == 0 {
		return types.Outcome{}
	}

	out := types.Outcome{
		Eligibility: outcomes[0].Eligibility,
		HealthClass: outcomes[0].HealthClass,
		TableRating: outcomes[0].TableRating,
	}
	var reasons []string
	seenReason := make(map[string]bool)
	seenConcern := make(map[string]bool)

	for _, o := range outcomes {
		if o.Eligibility.Rank() > out.Eligibility.Rank() {
			out.Eligibility = o.Eligibility
		}
		if o.HealthClass.Rank() > out.HealthClass.Rank() {
			out.HealthClass = o.HealthClass
		}
		if o.TableRating.Units() > out.TableRating.Units() {
			out.TableRating = o.TableRating
		}
		if o.Reason != "" && !seenReason[o.Reason] {
			seenReason[o.Reason] = true
			reasons = append(reasons, o.Reason)
		}
		for _, c := range o.Concerns {
			if !seenConcern[c] {
				seenConcern[c] = true
				out.Concerns = append(out.Concerns, c)
			}
		}
	}
	out.Reason = strings.Join(reasons, "; ")
	return out
}
