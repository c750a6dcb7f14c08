// internal/rules/engine.go
package rules

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/commissiontracker/underwriter/internal/metrics"
	"github.com/commissiontracker/underwriter/internal/types"
)

/*
 * Rule resolution.
 *
 * Resolution flow:
 *   1. Flatten active rules across the given rule sets, stable-sorted by priority
 *   2. Drop rules whose age band or gender filter excludes the applicant
 *   3. Compile each remaining rule against the registry
 *   4. Evaluate its predicate; the first match decides (first_match policy)
 *   5. No match returns the caller's fallback outcome
 *
 * Resolution never fails. A rule that references an unknown field, is
 * otherwise invalid, or cannot be decided because a required fact is missing
 * is skipped and recorded; the remaining rules still run. Skips are logged
 * and counted so a broken rule is visible without blocking applications.
 *
 * The most_severe policy evaluates every candidate and combines all matching
 * outcomes worst-of. It suits rule sets written per impairment where several
 * impairments apply to one applicant.
 */

// Policy selects how matching rules determine the outcome.
type Policy string

const (
	PolicyFirstMatch Policy = "first_match"
	PolicyMostSevere Policy = "most_severe"
)

// ParsePolicy validates a policy name; empty selects first_match.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyFirstMatch:
		return PolicyFirstMatch, nil
	case PolicyMostSevere:
		return PolicyMostSevere, nil
	}
	return "", fmt.Errorf("unknown resolution policy %q", s)
}

// SkipReason explains why a candidate rule did not take part.
type SkipReason string

const (
	SkipUnknownField     SkipReason = "unknown_field"
	SkipInvalidPredicate SkipReason = "invalid_predicate"
	SkipMissingFact      SkipReason = "missing_fact"
	SkipNotApplicable    SkipReason = "not_applicable"
)

// MatchedRule identifies a rule whose predicate matched.
type MatchedRule struct {
	RuleID    types.RuleID    `json:"rule_id"`
	RuleSetID types.RuleSetID `json:"rule_set_id"`
	Name      string          `json:"name"`
	Priority  int             `json:"priority"`
	Outcome   types.Outcome   `json:"outcome"`
}

// SkippedRule identifies a rule left out of resolution.
type SkippedRule struct {
	RuleID    types.RuleID    `json:"rule_id"`
	RuleSetID types.RuleSetID `json:"rule_set_id"`
	Name      string          `json:"name"`
	Reason    SkipReason      `json:"reason"`
	Detail    string          `json:"detail,omitempty"`
}

// Resolution is the detailed result of resolving rule sets against facts.
type Resolution struct {
	Outcome   types.Outcome `json:"outcome"`
	Matched   []MatchedRule `json:"matched,omitempty"`
	Skipped   []SkippedRule `json:"skipped,omitempty"`
	Evaluated int           `json:"evaluated"`
	Default   bool          `json:"default"`
}

// Engine resolves rule sets against fact sets.
// An Engine is safe for concurrent use.
type Engine struct {
	fields  FieldResolver
	logger  *zap.Logger
	metrics *metrics.Metrics
	policy  Policy
	clock   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for skipped-rule diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPolicy sets the resolution policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithClock sets the clock used for date operators.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// NewEngine creates an engine resolving fields through fields.
func NewEngine(fields FieldResolver, opts ...Option) *Engine {
	e := &Engine{
		fields: fields,
		logger: zap.NewNop(),
		policy: PolicyFirstMatch,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's resolution policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Resolve returns the outcome of the first matching rule, or fallback.
func (e *Engine) Resolve(ruleSets []types.RuleSet, facts types.FactSet, fallback types.Outcome) types.Outcome {
	return e.ResolveDetailed(ruleSets, facts, fallback).Outcome
}

// ResolveDetailed resolves like Resolve and reports which rules matched and
// which were skipped.
func (e *Engine) ResolveDetailed(ruleSets []types.RuleSet, facts types.FactSet, fallback types.Outcome) Resolution {
	start := time.Now()
	ctx := EvalContext{Now: e.clock()}
	app := applicantOf(facts)

	var res Resolution
	for _, c := range candidates(ruleSets) {
		if reason, detail := app.excludes(c.rule); reason != "" {
			e.skip(&res, c, reason, detail)
			continue
		}

		compiled, err := Compile(c.rule, e.fields)
		if err != nil {
			reason := SkipInvalidPredicate
			if errors.Is(err, types.ErrUnknownField) {
				reason = SkipUnknownField
			}
			e.logger.Warn("skipping invalid rule",
				zap.String("rule_id", string(c.rule.ID)),
				zap.String("rule_set_id", string(c.set.ID)),
				zap.String("rule", c.rule.Name),
				zap.String("reason", string(reason)),
				zap.Error(err))
			e.skip(&res, c, reason, err.Error())
			continue
		}

		res.Evaluated++
		matched, err := Evaluate(compiled.Rule.Predicate.Root, facts, ctx)
		if err != nil {
			reason := SkipInvalidPredicate
			if errors.Is(err, types.ErrMissingFact) {
				reason = SkipMissingFact
			}
			e.logger.Debug("rule undecided",
				zap.String("rule_id", string(c.rule.ID)),
				zap.String("rule", c.rule.Name),
				zap.Error(err))
			e.skip(&res, c, reason, err.Error())
			continue
		}
		if !matched {
			continue
		}

		res.Matched = append(res.Matched, MatchedRule{
			RuleID:    c.rule.ID,
			RuleSetID: c.set.ID,
			Name:      c.rule.Name,
			Priority:  c.rule.Priority,
			Outcome:   c.rule.Outcome,
		})
		if e.policy != PolicyMostSevere {
			break
		}
	}

	switch {
	case len(res.Matched) == 0:
		res.Outcome = fallback
		res.Default = true
		e.metrics.IncrementDefault()
	case len(res.Matched) == 1:
		res.Outcome = res.Matched[0].Outcome
	default:
		outcomes := make([]types.Outcome, len(res.Matched))
		for i, m := range res.Matched {
			outcomes[i] = m.Outcome
		}
		res.Outcome = Aggregate(outcomes...)
	}

	e.metrics.IncrementOutcome(string(res.Outcome.Eligibility), string(res.Outcome.HealthClass))
	e.metrics.ObserveResolveLatency(time.Since(start))
	return res
}

func (e *Engine) skip(res *Resolution, c candidate, reason SkipReason, detail string) {
	res.Skipped = append(res.Skipped, SkippedRule{
		RuleID:    c.rule.ID,
		RuleSetID: c.set.ID,
		Name:      c.rule.Name,
		Reason:    reason,
		Detail:    detail,
	})
	e.metrics.IncrementSkipped(string(reason))
}

// applicant holds the facts rule filters read.
type applicant struct {
	age      float64
	ageKnown bool
	gender   types.Gender
}

func applicantOf(facts types.FactSet) applicant {
	var a applicant
	if v, ok := LookupFact(facts, "client.age"); ok {
		if n, err := toNumber(v); err == nil {
			a.age, a.ageKnown = n, true
		}
	}
	if v, ok := LookupFact(facts, "client.gender"); ok {
		if s, err := toText(v); err == nil {
			a.gender = types.Gender(s)
		}
	}
	return a
}

// excludes returns a skip reason when the rule's filters leave the applicant out.
func (a applicant) excludes(r *types.Rule) (SkipReason, string) {
	if r.AgeBandMin != nil || r.AgeBandMax != nil {
		if !a.ageKnown {
			return SkipMissingFact, `age band requires "client.age"`
		}
		if r.AgeBandMin != nil && a.age < float64(*r.AgeBandMin) {
			return SkipNotApplicable, fmt.Sprintf("age %v below band minimum %d", a.age, *r.AgeBandMin)
		}
		if r.AgeBandMax != nil && a.age > float64(*r.AgeBandMax) {
			return SkipNotApplicable, fmt.Sprintf("age %v above band maximum %d", a.age, *r.AgeBandMax)
		}
	}
	if r.Gender != types.GenderAny {
		if a.gender == types.GenderAny {
			return SkipMissingFact, `gender filter requires "client.gender"`
		}
		if a.gender != r.Gender {
			return SkipNotApplicable, fmt.Sprintf("rule applies to %s applicants", r.Gender)
		}
	}
	return "", ""
}
