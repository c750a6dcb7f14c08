package rules

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/commissiontracker/underwriter/internal/types"
)

func TestLookupFact(t *testing.T) {
	facts := types.FactSet{
		"client.age":      52,
		"client.bmi":      nil,
		"diabetes_type_2": map[string]any{"a1c": 7.1, "insulin_use": nil},
		"client":          map[string]any{"state": "NY"},
		"heart_disease":   types.FactSet{"nyha_class": "2"},
	}
	tests := []struct {
		field     string
		wantValue any
		wantFound bool
	}{
		{"client.age", 52, true},
		{"client.bmi", nil, false},
		{"diabetes_type_2.a1c", 7.1, true},
		{"diabetes_type_2.insulin_use", nil, false},
		{"client.state", "NY", true},
		{"heart_disease.nyha_class", "2", true},
		{"client.tobacco", nil, false},
		{"copd", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, found := LookupFact(facts, tt.field)
			if found != tt.wantFound {
				t.Errorf("LookupFact(%q) found = %v, want %v", tt.field, found, tt.wantFound)
			}
			if found && got != tt.wantValue {
				t.Errorf("LookupFact(%q) = %v, want %v", tt.field, got, tt.wantValue)
			}
		})
	}
}

func TestLookupFact_NullFlatKeyFallsThroughToNested(t *testing.T) {
	facts := types.FactSet{
		"client.bmi": nil,
		"client":     map[string]any{"bmi": 31},
	}
	got, found := LookupFact(facts, "client.bmi")
	if !found || got != 31 {
		t.Errorf("LookupFact(client.bmi) = %v, %v, want 31, true", got, found)
	}

	got, found = LookupFact(types.FactSet{"copd": nil}, "copd")
	if found {
		t.Errorf("LookupFact(copd) = %v, %v, want absent", got, found)
	}
}

func TestDeclaredConditions(t *testing.T) {
	if got := DeclaredConditions(types.FactSet{"conditions": []any{"copd", "asthma"}}); len(got) != 2 || got[1] != "asthma" {
		t.Errorf("DeclaredConditions([]any) = %v", got)
	}
	if got := DeclaredConditions(types.FactSet{"conditions": []string{"copd"}}); len(got) != 1 {
		t.Errorf("DeclaredConditions([]string) = %v", got)
	}
	if got := DeclaredConditions(types.FactSet{}); got != nil {
		t.Errorf("DeclaredConditions(missing) = %v, want nil", got)
	}
	if got := DeclaredConditions(types.FactSet{"conditions": "copd"}); got != nil {
		t.Errorf("DeclaredConditions(string) = %v, want nil", got)
	}
}

func TestBuildFactSet(t *testing.T) {
	facts := BuildFactSet(ClientProfile{
		Age:        61,
		Gender:     types.GenderFemale,
		State:      "ny",
		Conditions: []string{"diabetes_type_2"},
		Responses: map[string]map[string]any{
			"diabetes_type_2": {"a1c": 8.2, "insulin_use": true, "diagnosis_date": nil},
		},
	})

	if facts["client.age"] != 61 || facts["client.gender"] != "female" || facts["client.state"] != "NY" {
		t.Errorf("client facts = %v", facts)
	}
	if _, ok := facts["client.bmi"]; ok {
		t.Error("zero BMI present, want omitted")
	}
	if facts["diabetes_type_2.a1c"] != 8.2 {
		t.Errorf("diabetes_type_2.a1c = %v, want 8.2", facts["diabetes_type_2.a1c"])
	}
	if _, ok := facts["diabetes_type_2.diagnosis_date"]; ok {
		t.Error("nil response present, want omitted")
	}
	if got := DeclaredConditions(facts); len(got) != 1 || got[0] != "diabetes_type_2" {
		t.Errorf("DeclaredConditions = %v", got)
	}
}

func TestFactSetHash(t *testing.T) {
	a := types.FactSet{"client.age": 40, "conditions": []string{"copd"}}
	b := types.FactSet{"conditions": []string{"copd"}, "client.age": 40}
	c := types.FactSet{"client.age": 41, "conditions": []string{"copd"}}

	ha, err := FactSetHash(a)
	if err != nil {
		t.Fatalf("FactSetHash error = %v", err)
	}
	hb, _ := FactSetHash(b)
	hc, _ := FactSetHash(c)
	if ha != hb {
		t.Errorf("equal fact sets hash differently: %s vs %s", ha, hb)
	}
	if ha == hc {
		t.Error("different fact sets hash equally")
	}
	if _, err := FactSetHash(types.FactSet{"bad": make(chan int)}); err == nil {
		t.Error("FactSetHash(chan) error = nil")
	}
}

// Property-based test: lookup never panics on arbitrary nesting
func TestLookupFact_PropertyNeverCrashes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("lookup never crashes regardless of depth", prop.ForAll(
		func(depth int, flat bool) bool {
			var v any = 1.0
			key := "leaf"
			for i := 0; i < depth; i++ {
				v = map[string]any{"n": v, "x": nil}
				key = "n." + key
			}
			facts := types.FactSet{"root": v}
			if flat {
				facts["root."+key] = 2.0
			}

			defer func() {
				if r := recover(); r != nil {
					t.Errorf("LookupFact() panicked: %v", r)
				}
			}()
			_, _ = LookupFact(facts, "root."+key)
			return true
		},
		gen.IntRange(0, 24),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
