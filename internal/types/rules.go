// internal/types/rules.go
package types

import "encoding/json"

/*
 * Rules and rule sets.
 *
 * A rule pairs a predicate with the outcome assigned when it matches. Rules
 * are grouped into rule sets scoped to a carrier, optionally narrowed to a
 * product and to one declared condition. Priority orders rules ascending
 * (1 is evaluated first); ties keep their input order.
 *
 * Age band and gender are applicability filters checked before the
 * predicate: a rule outside its band is not a candidate at all.
 */

// Gender restricts a rule to one gender; empty means any.
type Gender string

const (
	GenderAny    Gender = ""
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Valid reports whether g is any, male, or female.
func (g Gender) Valid() bool {
	return g == GenderAny || g == GenderMale || g == GenderFemale
}

// Rule is one underwriting rule.
type Rule struct {
	ID          RuleID    `json:"id,omitempty"`
	RuleSetID   RuleSetID `json:"rule_set_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Priority    int       `json:"priority"`
	Predicate   Predicate `json:"predicate"`
	Outcome     Outcome   `json:"outcome"`
	IsActive    bool      `json:"is_active"`
	AgeBandMin  *int      `json:"age_band_min,omitempty"`
	AgeBandMax  *int      `json:"age_band_max,omitempty"`
	Gender      Gender    `json:"gender,omitempty"`
}

// UnmarshalJSON defaults is_active to true when omitted.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	tmp := plain{IsActive: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*r = Rule(tmp)
	return nil
}

// Scope selects which applications a rule set applies to.
// Nil ProductID applies to every product of the carrier; nil ConditionCode
// applies regardless of declared conditions.
type Scope struct {
	CarrierID     string  `json:"carrier_id"`
	ProductID     *string `json:"product_id,omitempty"`
	ConditionCode *string `json:"condition_code,omitempty"`
	Variant       string  `json:"variant,omitempty"`
}

// RuleSet is an ordered collection of rules under one scope.
type RuleSet struct {
	ID       RuleSetID `json:"id,omitempty"`
	Name     string    `json:"name"`
	Scope    Scope     `json:"scope"`
	Rules    []Rule    `json:"rules"`
	IsActive bool      `json:"is_active"`
}

// UnmarshalJSON defaults is_active to true when omitted.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	type plain RuleSet
	tmp := plain{IsActive: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*rs = RuleSet(tmp)
	return nil
}
