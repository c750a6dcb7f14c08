package rules

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/commissiontracker/underwriter/internal/metrics"
	"github.com/commissiontracker/underwriter/internal/registry"
	"github.com/commissiontracker/underwriter/internal/types"
)

var (
	declineOutcome = types.Outcome{Eligibility: types.EligibilityIneligible, HealthClass: types.HealthDecline, Reason: "decline"}
	referOutcome   = types.Outcome{Eligibility: types.EligibilityRefer, HealthClass: types.HealthRefer, Reason: "refer"}
	tableOutcome   = types.Outcome{Eligibility: types.EligibilityEligible, HealthClass: types.HealthSubstandard, TableRating: "D", Reason: "table D", Concerns: []string{"a1c"}}
	fallback       = types.Outcome{Eligibility: types.EligibilityEligible, HealthClass: types.HealthStandard, Reason: "fallback"}
)

func rule(id string, priority int, root types.Node, outcome types.Outcome) types.Rule {
	return types.Rule{
		ID:        types.RuleID(id),
		Name:      id,
		Priority:  priority,
		Predicate: NewPredicate(root),
		Outcome:   outcome,
		IsActive:  true,
	}
}

func ruleSet(id string, rules ...types.Rule) types.RuleSet {
	return types.RuleSet{ID: types.RuleSetID(id), Name: id, Scope: types.Scope{CarrierID: "acme"}, Rules: rules, IsActive: true}
}

func newTestEngine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return evalNow })}, opts...)
	return NewEngine(registry.Default(), opts...)
}

func TestEngine_FirstMatchByPriority(t *testing.T) {
	facts := types.FactSet{"client.age": 70, "diabetes_type_2.a1c": 9.1, "conditions": []any{"diabetes_type_2"}}
	sets := []types.RuleSet{ruleSet("dm2",
		rule("table", 5, Numeric("diabetes_type_2.a1c", types.OpGt, 8), tableOutcome),
		rule("decline", 1, All(Numeric("diabetes_type_2.a1c", types.OpGt, 9), Numeric("client.age", types.OpGte, 65)), declineOutcome),
		rule("refer", 3, HasAnyCondition("diabetes_type_2"), referOutcome),
	)}

	res := newTestEngine().ResolveDetailed(sets, facts, fallback)
	if res.Outcome.Reason != "decline" {
		t.Errorf("Outcome = %+v, want decline", res.Outcome)
	}
	if len(res.Matched) != 1 || res.Matched[0].RuleID != "decline" || res.Matched[0].RuleSetID != "dm2" {
		t.Errorf("Matched = %+v, want only decline", res.Matched)
	}
	if res.Evaluated != 1 || res.Default {
		t.Errorf("Evaluated = %d, Default = %v, want 1, false", res.Evaluated, res.Default)
	}
}

func TestEngine_EqualPriorityKeepsInputOrder(t *testing.T) {
	facts := types.FactSet{"client.age": 40}
	always := IsNotNull("client.age")
	sets := []types.RuleSet{
		ruleSet("first", rule("a", 2, always, referOutcome)),
		ruleSet("second", rule("b", 2, always, declineOutcome), rule("c", 1, Numeric("client.age", types.OpGt, 90), tableOutcome)),
	}

	got := newTestEngine().Resolve(sets, facts, fallback)
	if got.Reason != "refer" {
		t.Errorf("Resolve() = %+v, want the first rule set's rule", got)
	}
}

func TestEngine_InactiveRulesIgnored(t *testing.T) {
	facts := types.FactSet{"client.tobacco": true}
	inactive := rule("smoker-decline", 1, Boolean("client.tobacco", true), declineOutcome)
	inactive.IsActive = false
	sets := []types.RuleSet{ruleSet("s", inactive, rule("smoker-refer", 2, Boolean("client.tobacco", true), referOutcome))}

	if got := newTestEngine().Resolve(sets, facts, fallback); got.Reason != "refer" {
		t.Errorf("Resolve() = %+v, want refer", got)
	}
}

func TestEngine_FallbackWhenNothingMatches(t *testing.T) {
	sets := []types.RuleSet{ruleSet("s", rule("old", 1, Numeric("client.age", types.OpGt, 80), declineOutcome))}

	res := newTestEngine().ResolveDetailed(sets, types.FactSet{"client.age": 30}, fallback)
	if !res.Default || res.Outcome.Reason != "fallback" {
		t.Errorf("Resolution = %+v, want fallback", res)
	}
	if got := newTestEngine().Resolve(nil, types.FactSet{}, fallback); got.Reason != "fallback" {
		t.Errorf("Resolve(no rule sets) = %+v, want fallback", got)
	}
}

func TestEngine_SkipsBrokenRulesAndContinues(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	engine := newTestEngine(WithLogger(zap.New(core)), WithMetrics(m))

	facts := types.FactSet{"client.age": 50}
	sets := []types.RuleSet{ruleSet("s",
		rule("unknown-field", 1, Numeric("client.height", types.OpGt, 200), declineOutcome),
		rule("missing-fact", 2, Numeric("client.bmi", types.OpGt, 40).WithNullHandling(types.NullError), declineOutcome),
		rule("bad-shape", 3, &types.Condition{Kind: types.KindNumeric, Field: "client.age", Operator: types.OpGt, Value: types.StringValue("x")}, declineOutcome),
		rule("fallthrough", 4, Numeric("client.age", types.OpGte, 18), referOutcome),
	)}

	res := engine.ResolveDetailed(sets, facts, fallback)
	if res.Outcome.Reason != "refer" {
		t.Fatalf("Outcome = %+v, want refer", res.Outcome)
	}

	wantReasons := map[types.RuleID]SkipReason{
		"unknown-field": SkipUnknownField,
		"missing-fact":  SkipMissingFact,
		"bad-shape":     SkipInvalidPredicate,
	}
	if len(res.Skipped) != len(wantReasons) {
		t.Fatalf("Skipped = %+v, want %d entries", res.Skipped, len(wantReasons))
	}
	for _, s := range res.Skipped {
		if wantReasons[s.RuleID] != s.Reason {
			t.Errorf("skip %s reason = %s, want %s", s.RuleID, s.Reason, wantReasons[s.RuleID])
		}
	}

	if n := logs.FilterField(zap.String("reason", string(SkipUnknownField))).Len(); n != 1 {
		t.Errorf("unknown field warnings = %d, want 1", n)
	}
	if got := testutil.ToFloat64(m.SkippedRules.WithLabelValues(string(SkipUnknownField))); got != 1 {
		t.Errorf("skipped unknown_field metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResolutionOutcome.WithLabelValues("refer", "refer")); got != 1 {
		t.Errorf("outcome metric = %v, want 1", got)
	}
}

func TestEngine_ApplicabilityFilters(t *testing.T) {
	lo, hi := 18, 40
	young := rule("young", 1, IsNotNull("client.age"), tableOutcome)
	young.AgeBandMin, young.AgeBandMax = &lo, &hi
	women := rule("women", 2, IsNotNull("client.gender"), referOutcome)
	women.Gender = types.GenderFemale
	sets := []types.RuleSet{ruleSet("s", young, women)}

	tests := []struct {
		name  string
		facts types.FactSet
		want  string
	}{
		{"in band", types.FactSet{"client.age": 40, "client.gender": "male"}, "table D"},
		{"above band, female", types.FactSet{"client.age": 41, "client.gender": "female"}, "refer"},
		{"above band, male", types.FactSet{"client.age": 41, "client.gender": "male"}, "fallback"},
		{"no age", types.FactSet{"client.gender": "female"}, "refer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newTestEngine().Resolve(sets, tt.facts, fallback); got.Reason != tt.want {
				t.Errorf("Resolve() = %q, want %q", got.Reason, tt.want)
			}
		})
	}
}

func TestEngine_MostSevere(t *testing.T) {
	facts := types.FactSet{"conditions": []any{"diabetes_type_2", "sleep_apnea"}, "diabetes_type_2.a1c": 8.4}
	sets := []types.RuleSet{
		ruleSet("dm2", rule("a1c", 1, Numeric("diabetes_type_2.a1c", types.OpGt, 8), tableOutcome)),
		ruleSet("osa", rule("osa", 1, HasAnyCondition("sleep_apnea"), referOutcome)),
	}

	res := newTestEngine(WithPolicy(PolicyMostSevere)).ResolveDetailed(sets, facts, fallback)
	if len(res.Matched) != 2 {
		t.Fatalf("Matched = %+v, want 2", res.Matched)
	}
	want := types.Outcome{
		Eligibility: types.EligibilityRefer,
		HealthClass: types.HealthRefer,
		TableRating: "D",
		Reason:      "table D; refer",
		Concerns:    []string{"a1c"},
	}
	got := res.Outcome
	if got.Eligibility != want.Eligibility || got.HealthClass != want.HealthClass ||
		got.TableRating != want.TableRating || got.Reason != want.Reason || len(got.Concerns) != 1 {
		t.Errorf("Outcome = %+v, want %+v", got, want)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyFirstMatch, "first_match": PolicyFirstMatch, "most_severe": PolicyMostSevere} {
		if got, err := ParsePolicy(in); err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("random"); err == nil {
		t.Error("ParsePolicy(random) error = nil")
	}
}

// Property-based test: resolution is deterministic and independent of rule set order
func TestEngine_PropertyDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	engine := newTestEngine()

	outcomes := []types.Outcome{declineOutcome, referOutcome, tableOutcome}

	properties.Property("same inputs resolve identically in any rule set order", prop.ForAll(
		func(age int, thresholds []int) bool {
			sets := make([]types.RuleSet, len(thresholds))
			for i, th := range thresholds {
				sets[i] = ruleSet("s", rule("r", i+1, Numeric("client.age", types.OpGte, float64(th)), outcomes[i%len(outcomes)]))
			}
			reversed := make([]types.RuleSet, len(sets))
			for i := range sets {
				reversed[len(sets)-1-i] = sets[i]
			}
			facts := types.FactSet{"client.age": age}

			a := engine.Resolve(sets, facts, fallback)
			b := engine.Resolve(sets, facts, fallback)
			c := engine.Resolve(reversed, facts, fallback)
			return a.Reason == b.Reason && a.Reason == c.Reason
		},
		gen.IntRange(0, 100),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.Property("first match is the lowest-priority matching rule", prop.ForAll(
		func(age int, thresholds []int) bool {
			rules := make([]types.Rule, len(thresholds))
			want := fallback
			for i, th := range thresholds {
				o := types.Outcome{Eligibility: types.EligibilityEligible, HealthClass: types.HealthStandard, Reason: string(rune('a' + i%26))}
				rules[i] = rule("r", i+1, Numeric("client.age", types.OpLte, float64(th)), o)
				if age <= th && want.Reason == "fallback" {
					want = o
				}
			}
			got := engine.Resolve([]types.RuleSet{ruleSet("s", rules...)}, types.FactSet{"client.age": age}, fallback)
			return got.Reason == want.Reason
		},
		gen.IntRange(0, 100),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

func TestEngine_SkipsRulesWithInvalidPriority(t *testing.T) {
	always := IsNotNull("client.age")
	zero := rule("zero", 0, always, declineOutcome)
	negative := rule("negative", -3, always, declineOutcome)
	sets := []types.RuleSet{ruleSet("inline", zero, negative, rule("valid", 1, always, referOutcome))}

	res := newTestEngine().ResolveDetailed(sets, types.FactSet{"client.age": 40}, fallback)
	if res.Outcome.Reason != "refer" {
		t.Fatalf("Outcome = %+v, want refer", res.Outcome)
	}
	if len(res.Skipped) != 2 {
		t.Fatalf("Skipped = %+v, want 2 entries", res.Skipped)
	}
	for _, s := range res.Skipped {
		if s.Reason != SkipInvalidPredicate {
			t.Errorf("skip %s reason = %s, want %s", s.RuleID, s.Reason, SkipInvalidPredicate)
		}
	}
}

func TestEngine_ConcurrentResolveWhileRegistering(t *testing.T) {
	reg := registry.Default()
	engine := NewEngine(reg, WithClock(func() time.Time { return evalNow }))
	sets := []types.RuleSet{ruleSet("s",
		rule("a1c", 1, Numeric("diabetes_type_2.a1c", types.OpGt, 9), declineOutcome),
		rule("copd", 2, HasAnyCondition("copd"), referOutcome),
	)}
	facts := types.FactSet{"conditions": []any{"copd"}, "diabetes_type_2.a1c": 7.2}

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if got := engine.Resolve(sets, facts, fallback); got.Reason != "refer" {
					errs <- got.Reason
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		code := "extra_" + strconv.Itoa(i)
		fields := []registry.FieldDefinition{{Key: code + ".score", Type: types.FieldNumeric, Label: "Score"}}
		if err := reg.RegisterCondition(code, fields); err != nil {
			t.Fatalf("RegisterCondition(%s) error = %v", code, err)
		}
	}
	wg.Wait()
	close(errs)

	for reason := range errs {
		t.Errorf("concurrent Resolve reason = %q, want refer", reason)
	}
	if got := len(reg.ConditionCodes()); got < 50 {
		t.Errorf("ConditionCodes() = %d codes, want at least 50", got)
	}
}
