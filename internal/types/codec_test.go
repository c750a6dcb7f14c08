package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func decode(t *testing.T, doc string) Predicate {
	t.Helper()
	var p Predicate
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", doc, err)
	}
	return p
}

func TestUnmarshalVersionedPredicate(t *testing.T) {
	p := decode(t, `{"version":2,"root":{"all":[
		{"type":"numeric","field":"client.age","operator":"gte","value":50},
		{"type":"boolean","field":"client.tobacco","operator":"eq","value":true}
	]}}`)

	if p.Version != PredicateVersion {
		t.Errorf("Version = %d, want %d", p.Version, PredicateVersion)
	}
	g, ok := p.Root.(*Group)
	if !ok {
		t.Fatalf("Root = %T, want *Group", p.Root)
	}
	if g.Combinator != CombinatorAll || len(g.Children) != 2 {
		t.Fatalf("Root = %+v, want all with 2 children", g)
	}
	age := g.Children[0].(*Condition)
	if age.Kind != KindNumeric || age.Field != "client.age" || age.Operator != OpGte {
		t.Errorf("first child = %+v", age)
	}
	if age.Value.Shape != ShapeNumber || age.Value.Number != 50 {
		t.Errorf("first child value = %+v, want number 50", age.Value)
	}
	if tob := g.Children[1].(*Condition); tob.Value.Shape != ShapeBool || !tob.Value.Bool {
		t.Errorf("second child value = %+v, want true", tob.Value)
	}
}

func TestUnmarshalLegacyRootUpgrades(t *testing.T) {
	p := decode(t, `{"any":[{"type":"condition_presence","field":"conditions","operator":"includes_any","value":["copd"]}]}`)
	if p.Version != PredicateVersion {
		t.Errorf("Version = %d, want %d", p.Version, PredicateVersion)
	}
	if g, ok := p.Root.(*Group); !ok || g.Combinator != CombinatorAny {
		t.Errorf("Root = %#v, want any group", p.Root)
	}

	p = decode(t, `{"version":1,"root":{"type":"null_check","field":"client.bmi","operator":"is_null"}}`)
	if p.Version != PredicateVersion {
		t.Errorf("Version = %d, want upgraded %d", p.Version, PredicateVersion)
	}
}

func TestUnmarshalValueShapes(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want Value
	}{
		{"number", `{"type":"numeric","field":"f","operator":"lt","value":7.5}`, NumberValue(7.5)},
		{"range array", `{"type":"numeric","field":"f","operator":"between","value":[18,35]}`, RangeValue(18, 35)},
		{"range object", `{"type":"numeric","field":"f","operator":"between","value":{"min":1,"max":2}}`, RangeValue(1, 2)},
		{"string", `{"type":"string","field":"f","operator":"eq","value":"NY"}`, StringValue("NY")},
		{"numeric list", `{"type":"set","field":"f","operator":"in","value":[1,2]}`, ListValue("1", "2")},
		{"numeric list normalized", `{"type":"array","field":"f","operator":"includes_any","value":[2.0,1e2,65.50]}`, ListValue("2", "100", "65.5")},
		{"no value", `{"type":"array","field":"f","operator":"is_empty"}`, NoValue()},
		{"null value", `{"type":"null_check","field":"f","operator":"is_null","value":null}`, NoValue()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := decode(t, tt.doc)
			c := p.Root.(*Condition)
			if c.Value.Describe() != tt.want.Describe() || c.Value.Shape != tt.want.Shape {
				t.Errorf("Value = %s (%s), want %s (%s)", c.Value.Describe(), c.Value.Shape, tt.want.Describe(), tt.want.Shape)
			}
		})
	}
}

func TestUnmarshalNullHandling(t *testing.T) {
	tests := []struct {
		wire string
		want NullHandling
	}{
		{"", NullDefault},
		{"treat_as_true", NullTreatAsTrue},
		{"fail", NullTreatAsFalse},
		{"unknown", NullError},
		{"error", NullError},
	}
	for _, tt := range tests {
		doc := `{"type":"numeric","field":"f","operator":"gt","value":1,"treatNullAs":"` + tt.wire + `"}`
		c := decode(t, doc).Root.(*Condition)
		if c.NullHandling != tt.want {
			t.Errorf("treatNullAs %q = %q, want %q", tt.wire, c.NullHandling, tt.want)
		}
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	docs := map[string]string{
		"array root":       `[1,2]`,
		"two combinators":  `{"all":[],"any":[]}`,
		"no discriminator": `{"field":"client.age"}`,
		"children object":  `{"all":{"type":"numeric"}}`,
		"bool list item":   `{"type":"set","field":"f","operator":"in","value":[true]}`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			var p Predicate
			err := json.Unmarshal([]byte(doc), &p)
			if !errors.Is(err, ErrMalformedPredicate) {
				t.Errorf("Unmarshal error = %v, want ErrMalformedPredicate", err)
			}
		})
	}
}

func TestUnmarshalDepthLimit(t *testing.T) {
	doc := `{"type":"null_check","field":"f","operator":"is_null"}`
	for i := 0; i < MaxPredicateDepth+1; i++ {
		doc = `{"not":` + doc + `}`
	}
	var p Predicate
	if err := json.Unmarshal([]byte(doc), &p); !errors.Is(err, ErrPredicateTooDeep) {
		t.Errorf("Unmarshal error = %v, want ErrPredicateTooDeep", err)
	}
}

func TestMarshalRoundTripPreservesMeaning(t *testing.T) {
	p := Predicate{Version: PredicateVersion, Root: &Group{
		Combinator: CombinatorAll,
		Children: []Node{
			&Condition{Kind: KindNumeric, Field: "client.bmi", Operator: OpBetween, Value: RangeValue(18.5, 30)},
			&Group{Combinator: CombinatorNot, Children: []Node{
				&Condition{Kind: KindSet, Field: "client.state", Operator: OpIn, Value: ListValue("NY", "CA")},
			}},
			(&Condition{Kind: KindDate, Field: "cancer.remission_date", Operator: OpYearsSinceGte, Value: NumberValue(5)}).
				WithNullHandling(NullError),
		},
	}}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	var got Predicate
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", data, err)
	}
	again, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("second Marshal error = %v", err)
	}
	if string(again) != string(data) {
		t.Errorf("re-encoded = %s, want %s", again, data)
	}

	root := got.Root.(*Group)
	not := root.Children[1].(*Group)
	if not.Combinator != CombinatorNot || len(not.Children) != 1 {
		t.Errorf("not group = %+v, want one child", not)
	}
	if c := root.Children[2].(*Condition); c.NullHandling != NullError {
		t.Errorf("NullHandling = %q, want error", c.NullHandling)
	}
}

func TestRuleDefaultsActive(t *testing.T) {
	var rs RuleSet
	doc := `{"name":"copd","scope":{"carrier_id":"acme"},"rules":[
		{"name":"r1","priority":1,"predicate":{"type":"null_check","field":"client.age","operator":"is_not_null"},
		 "outcome":{"eligibility":"refer","health_class":"refer","reason":"x"}},
		{"name":"r2","priority":2,"is_active":false,"predicate":{"type":"null_check","field":"client.age","operator":"is_null"},
		 "outcome":{"eligibility":"eligible","health_class":"standard","table_rating":"none","reason":"y"}}
	]}`
	if err := json.Unmarshal([]byte(doc), &rs); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if !rs.IsActive {
		t.Error("rule set IsActive = false, want true when omitted")
	}
	if !rs.Rules[0].IsActive || rs.Rules[1].IsActive {
		t.Errorf("rules active = %v, %v, want true, false", rs.Rules[0].IsActive, rs.Rules[1].IsActive)
	}
	if rs.Rules[1].Outcome.TableRating != TableNone {
		t.Errorf("TableRating = %q, want none", rs.Rules[1].Outcome.TableRating)
	}
}
