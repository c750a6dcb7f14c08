package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commissiontracker/underwriter/internal/core/db"
	"github.com/commissiontracker/underwriter/internal/registry"
	"github.com/commissiontracker/underwriter/internal/rules"
	"github.com/commissiontracker/underwriter/internal/types"
)

var (
	decline = types.Outcome{Eligibility: types.EligibilityIneligible, HealthClass: types.HealthDecline, Reason: "uncontrolled"}
	tableD  = types.Outcome{Eligibility: types.EligibilityEligible, HealthClass: types.HealthSubstandard, TableRating: "D", Reason: "elevated a1c", Concerns: []string{"a1c"}}
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = db.MigrateUp(ctx, conn)
	require.NoError(t, err)

	s, err := New(conn, registry.Default())
	require.NoError(t, err)
	return s
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func diabetesSet() types.RuleSet {
	return types.RuleSet{
		Name: "Type 2 diabetes",
		Scope: types.Scope{
			CarrierID:     "acme",
			ConditionCode: strPtr("diabetes_type_2"),
		},
		IsActive: true,
		Rules: []types.Rule{
			{
				Name:      "A1C above 10",
				Priority:  1,
				Predicate: rules.NewPredicate(rules.Numeric("diabetes_type_2.a1c", types.OpGt, 10)),
				Outcome:   decline,
				IsActive:  true,
			},
			{
				Name:       "A1C 8 to 10",
				Priority:   2,
				Predicate:  rules.NewPredicate(rules.Between("diabetes_type_2.a1c", 8, 10)),
				Outcome:    tableD,
				IsActive:   true,
				AgeBandMin: intPtr(18),
				AgeBandMax: intPtr(70),
				Gender:     types.GenderFemale,
			},
		},
	}
}

func TestStore_CreateAndGetRuleSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateRuleSet(ctx, diabetesSet())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Len(t, created.Rules, 2)
	for _, r := range created.Rules {
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, created.ID, r.RuleSetID)
	}

	got, err := s.GetRuleSet(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Type 2 diabetes", got.Name)
	assert.Equal(t, "acme", got.Scope.CarrierID)
	assert.Nil(t, got.Scope.ProductID)
	require.NotNil(t, got.Scope.ConditionCode)
	assert.Equal(t, "diabetes_type_2", *got.Scope.ConditionCode)
	require.Len(t, got.Rules, 2)

	second := got.Rules[1]
	assert.Equal(t, created.Rules[1].ID, second.ID)
	assert.Equal(t, tableD, second.Outcome)
	assert.Equal(t, types.GenderFemale, second.Gender)
	require.NotNil(t, second.AgeBandMin)
	assert.Equal(t, 18, *second.AgeBandMin)
	require.NotNil(t, second.AgeBandMax)
	assert.Equal(t, 70, *second.AgeBandMax)

	cond, ok := second.Predicate.Root.(*types.Condition)
	require.True(t, ok, "root should be a condition, got %T", second.Predicate.Root)
	assert.Equal(t, types.OpBetween, cond.Operator)
	assert.Equal(t, types.RangeValue(8, 10), cond.Value)
}

func TestStore_CreateRuleSetRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rs := diabetesSet()
	rs.Scope.CarrierID = ""
	rs.Rules[0].Predicate = rules.NewPredicate(rules.Numeric("diabetes_type_2.hba1c", types.OpGt, 10))

	_, err := s.CreateRuleSet(ctx, rs)
	require.Error(t, err)

	var verrs types.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.GreaterOrEqual(t, len(verrs), 2)
	assert.ErrorIs(t, err, types.ErrUnknownField)
	assert.ErrorIs(t, err, types.ErrInvalidScope)

	sets, err := s.ListApplicable(ctx, "acme", "", []string{"diabetes_type_2"})
	require.NoError(t, err)
	assert.Empty(t, sets, "nothing should be written when validation fails")
}

func TestStore_AddRule(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateRuleSet(ctx, diabetesSet())
	require.NoError(t, err)

	added, err := s.AddRule(ctx, created.ID, types.Rule{
		Name:      "Insulin use",
		Priority:  2,
		Predicate: rules.NewPredicate(rules.Boolean("diabetes_type_2.insulin_use", true)),
		Outcome:   tableD,
		IsActive:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, added.RuleSetID)

	got, err := s.GetRuleSet(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Rules, 3)
	// Equal priority keeps insertion order.
	assert.Equal(t, "A1C above 10", got.Rules[0].Name)
	assert.Equal(t, "A1C 8 to 10", got.Rules[1].Name)
	assert.Equal(t, "Insulin use", got.Rules[2].Name)

	t.Run("unknown rule set", func(t *testing.T) {
		_, err := s.AddRule(ctx, types.NewRuleSetID(), added)
		assert.ErrorIs(t, err, types.ErrRuleSetNotFound)
	})

	t.Run("invalid rule", func(t *testing.T) {
		bad := added
		bad.ID = ""
		bad.Priority = 0
		_, err := s.AddRule(ctx, created.ID, bad)
		assert.ErrorIs(t, err, types.ErrInvalidPriority)
	})
}

func TestStore_Deactivate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateRuleSet(ctx, diabetesSet())
	require.NoError(t, err)

	require.NoError(t, s.DeactivateRule(ctx, created.Rules[0].ID))

	sets, err := s.ListApplicable(ctx, "acme", "", []string{"diabetes_type_2"})
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.Len(t, sets[0].Rules, 1)
	assert.Equal(t, created.Rules[1].ID, sets[0].Rules[0].ID)

	got, err := s.GetRuleSet(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Rules, 2, "history keeps inactive rules")
	assert.False(t, got.Rules[0].IsActive)

	require.NoError(t, s.DeactivateRuleSet(ctx, created.ID))
	sets, err = s.ListApplicable(ctx, "acme", "", []string{"diabetes_type_2"})
	require.NoError(t, err)
	assert.Empty(t, sets)

	assert.ErrorIs(t, s.DeactivateRule(ctx, types.NewRuleID()), types.ErrRuleNotFound)
	assert.ErrorIs(t, s.DeactivateRuleSet(ctx, types.NewRuleSetID()), types.ErrRuleSetNotFound)
}

func TestStore_ListApplicable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	general := types.RuleSet{
		Name:     "Build chart",
		Scope:    types.Scope{CarrierID: "acme"},
		IsActive: true,
		Rules: []types.Rule{{
			Name:      "BMI over 45",
			Priority:  1,
			Predicate: rules.NewPredicate(rules.Numeric("client.bmi", types.OpGt, 45)),
			Outcome:   decline,
			IsActive:  true,
		}},
	}
	termOnly := general
	termOnly.Name = "Term build chart"
	termOnly.Scope = types.Scope{CarrierID: "acme", ProductID: strPtr("term-20")}
	otherCarrier := general
	otherCarrier.Name = "Other carrier"
	otherCarrier.Scope = types.Scope{CarrierID: "globex"}

	for _, rs := range []types.RuleSet{diabetesSet(), general, termOnly, otherCarrier} {
		_, err := s.CreateRuleSet(ctx, rs)
		require.NoError(t, err)
	}

	names := func(sets []types.RuleSet) []string {
		var out []string
		for _, rs := range sets {
			out = append(out, rs.Name)
		}
		return out
	}

	tests := []struct {
		name       string
		product    string
		conditions []string
		want       []string
	}{
		{"no product no conditions", "", nil, []string{"Build chart"}},
		{"product matches", "term-20", nil, []string{"Build chart", "Term build chart"}},
		{"other product", "whole-life", nil, []string{"Build chart"}},
		{"declared condition", "", []string{"diabetes_type_2"}, []string{"Build chart", "Type 2 diabetes"}},
		{"undeclared condition", "", []string{"hypertension"}, []string{"Build chart"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sets, err := s.ListApplicable(ctx, "acme", tt.product, tt.conditions)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(sets))
		})
	}
}

func TestStore_GetRuleSetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRuleSet(context.Background(), types.NewRuleSetID())
	assert.ErrorIs(t, err, types.ErrRuleSetNotFound)
}

func TestStore_RejectsMalformedIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetRuleSet(ctx, "rs-1")
	assert.ErrorIs(t, err, types.ErrInvalidID)
	assert.ErrorIs(t, s.DeactivateRule(ctx, "not-a-uuid"), types.ErrInvalidID)
	assert.ErrorIs(t, s.DeactivateRuleSet(ctx, "rs-1"), types.ErrInvalidID)

	_, err = s.AddRule(ctx, "rs-1", diabetesSet().Rules[0])
	assert.ErrorIs(t, err, types.ErrInvalidID)

	rs := diabetesSet()
	rs.ID = "rs-1"
	_, err = s.CreateRuleSet(ctx, rs)
	assert.ErrorIs(t, err, types.ErrInvalidID)

	rs = diabetesSet()
	rs.Rules[0].ID = "r-1"
	_, err = s.CreateRuleSet(ctx, rs)
	assert.ErrorIs(t, err, types.ErrInvalidID)

	sets, err := s.ListApplicable(ctx, "acme", "", []string{"diabetes_type_2"})
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestStore_CreateRuleSetsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := diabetesSet()
	first.ID = types.NewRuleSetID()
	clash := diabetesSet()
	clash.Name = "Duplicate id"
	clash.ID = first.ID

	_, err := s.CreateRuleSets(ctx, []types.RuleSet{first, clash})
	require.Error(t, err)

	_, err = s.GetRuleSet(ctx, first.ID)
	assert.ErrorIs(t, err, types.ErrRuleSetNotFound, "first set rolled back with the failed one")

	created, err := s.CreateRuleSets(ctx, []types.RuleSet{diabetesSet(), diabetesSet()})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.NotEqual(t, created[0].ID, created[1].ID)
	for _, rs := range created {
		got, err := s.GetRuleSet(ctx, rs.ID)
		require.NoError(t, err)
		assert.Len(t, got.Rules, 2)
	}

	bad := diabetesSet()
	bad.Rules[1].Priority = 0
	_, err = s.CreateRuleSets(ctx, []types.RuleSet{diabetesSet(), bad})
	var verrs types.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "/rule_sets/1/rules/1/priority", verrs[0].Path)
}
