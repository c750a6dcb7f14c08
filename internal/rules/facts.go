// internal/rules/facts.go
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/commissiontracker/underwriter/internal/registry"
	"github.com/commissiontracker/underwriter/internal/types"
)

/*
 * Fact lookup.
 *
 * A field key is looked up as a flat key first ("diabetes_type_2.a1c" as a
 * single map key). Failing that, the key is split on dots and walked through
 * nested maps, trying the longest matching key at each level so mixed shapes
 * like {"diabetes_type_2": {"a1c": 7.1}} and {"client": {"age": 52}} resolve.
 *
 * Null values are absent: a fact set that carries "client.bmi": null is
 * treated exactly like one that omits the key, so a nested value under
 * {"client": {"bmi": 31}} still resolves. Null handling decides when neither
 * shape holds a value.
 */

// LookupFact returns the value of field and whether it is present and non-null.
func LookupFact(facts types.FactSet, field string) (any, bool) {
	if v, ok := facts[field]; ok && v != nil {
		return v, true
	}
	segments := strings.Split(field, ".")
	if len(segments) < 2 || len(segments) > types.MaxPathDepth {
		return nil, false
	}
	v, ok := lookupNested(map[string]any(facts), segments)
	return v, ok && v != nil
}

func lookupNested(m map[string]any, segments []string) (any, bool) {
	for i := len(segments); i >= 1; i-- {
		v, ok := m[strings.Join(segments[:i], ".")]
		if !ok {
			continue
		}
		if i == len(segments) {
			return v, true
		}
		if child, isMap := asMap(v); isMap {
			if found, ok := lookupNested(child, segments[i:]); ok {
				return found, true
			}
		}
	}
	return nil, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case types.FactSet:
		return map[string]any(m), true
	}
	return nil, false
}

// DeclaredConditions returns the condition codes listed under "conditions".
// Absent or malformed lists are empty.
func DeclaredConditions(facts types.FactSet) []string {
	v, ok := LookupFact(facts, registry.ConditionsField)
	if !ok {
		return nil
	}
	list, err := toStringList(v)
	if err != nil {
		return nil
	}
	return list
}

// ClientProfile is the intake view of an applicant.
type ClientProfile struct {
	Age        int
	Gender     types.Gender
	BMI        float64
	State      string
	Tobacco    bool
	Conditions []string
	// Responses holds per-condition answers keyed by condition code then field name,
	// e.g. Responses["diabetes_type_2"]["a1c"] = 7.2.
	Responses map[string]map[string]any
}

// BuildFactSet flattens a profile into dotted fact keys.
// Zero BMI and empty state are omitted so null handling applies to them.
func BuildFactSet(p ClientProfile) types.FactSet {
	facts := types.FactSet{
		"client.age":             p.Age,
		"client.tobacco":         p.Tobacco,
		registry.ConditionsField: append([]string{}, p.Conditions...),
	}
	if p.Gender != types.GenderAny {
		facts["client.gender"] = string(p.Gender)
	}
	if p.BMI > 0 {
		facts["client.bmi"] = p.BMI
	}
	if p.State != "" {
		facts["client.state"] = strings.ToUpper(p.State)
	}
	for code, answers := range p.Responses {
		for name, v := range answers {
			if v == nil {
				continue
			}
			facts[code+"."+name] = v
		}
	}
	return facts
}

// FactSetHash returns a stable fingerprint of a fact set.
// encoding/json sorts map keys, so equal fact sets hash equally.
func FactSetHash(facts types.FactSet) (string, error) {
	data, err := json.Marshal(facts)
	if err != nil {
		return "", fmt.Errorf("hash facts: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
