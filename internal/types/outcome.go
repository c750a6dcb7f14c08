// internal/types/outcome.go
package types

import (
	"fmt"
	"strings"
)

/*
 * Underwriting outcomes.
 *
 * Ranks order each enum from best to worst so outcomes from several rules
 * can be combined worst-of. Table ratings A..P are substandard tables; each
 * letter is 25% extra mortality, so A is 1 unit and P is 16.
 */

// Eligibility is the eligibility decision of an outcome.
type Eligibility string

const (
	EligibilityEligible   Eligibility = "eligible"
	EligibilityRefer      Eligibility = "refer"
	EligibilityIneligible Eligibility = "ineligible"
)

// Rank orders eligibility from best (0) to worst; -1 when unknown.
func (e Eligibility) Rank() int {
	switch e {
	case EligibilityEligible:
		return 0
	case EligibilityRefer:
		return 1
	case EligibilityIneligible:
		return 2
	}
	return -1
}

// Valid reports whether e is a known eligibility.
func (e Eligibility) Valid() bool { return e.Rank() >= 0 }

// HealthClass is the assigned risk class.
type HealthClass string

const (
	HealthPreferredPlus HealthClass = "preferred_plus"
	HealthPreferred     HealthClass = "preferred"
	HealthStandardPlus  HealthClass = "standard_plus"
	HealthStandard      HealthClass = "standard"
	HealthSubstandard   HealthClass = "substandard"
	HealthRefer         HealthClass = "refer"
	HealthDecline       HealthClass = "decline"
)

var healthRanks = map[HealthClass]int{
	HealthPreferredPlus: 0,
	HealthPreferred:     1,
	HealthStandardPlus:  2,
	HealthStandard:      3,
	HealthSubstandard:   4,
	HealthRefer:         5,
	HealthDecline:       6,
}

// Rank orders health classes from best (0) to worst; -1 when unknown.
func (h HealthClass) Rank() int {
	if r, ok := healthRanks[h]; ok {
		return r
	}
	return -1
}

// Valid reports whether h is a known health class.
func (h HealthClass) Valid() bool { return h.Rank() >= 0 }

// TableRating is a substandard table letter A..P, or empty for none.
type TableRating string

// TableNone is the absence of a table rating.
const TableNone TableRating = ""

const tableLetters = "ABCDEFGHIJKLMNOP"

// Units returns the table's multiple of 25% extra mortality; 0 for none or unknown.
func (t TableRating) Units() int {
	if len(t) != 1 {
		return 0
	}
	return strings.IndexByte(tableLetters, t[0]) + 1
}

// Valid reports whether t is none or a letter A..P.
func (t TableRating) Valid() bool {
	return t == TableNone || t.Units() > 0
}

// TableRatingFromUnits returns the letter for n units, clamped to A..P; none for n <= 0.
func TableRatingFromUnits(n int) TableRating {
	if n <= 0 {
		return TableNone
	}
	if n > len(tableLetters) {
		n = len(tableLetters)
	}
	return TableRating(tableLetters[n-1 : n])
}

// UnmarshalText accepts "none" and lower-case letters.
func (t *TableRating) UnmarshalText(text []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(text)))
	if s == "NONE" {
		s = ""
	}
	*t = TableRating(s)
	return nil
}

// Outcome is the result a matching rule assigns.
type Outcome struct {
	Eligibility Eligibility `json:"eligibility" yaml:"eligibility"`
	HealthClass HealthClass `json:"health_class" yaml:"health_class"`
	TableRating TableRating `json:"table_rating,omitempty" yaml:"table_rating,omitempty"`
	Reason      string      `json:"reason" yaml:"reason"`
	Concerns    []string    `json:"concerns,omitempty" yaml:"concerns,omitempty"`
}

// IsDecline reports whether the outcome declines the applicant.
func (o Outcome) IsDecline() bool {
	return o.Eligibility == EligibilityIneligible || o.HealthClass == HealthDecline
}

// Validate checks the enum members.
func (o Outcome) Validate() error {
	switch {
	case !o.Eligibility.Valid():
		return fmt.Errorf("%w: eligibility %q", ErrInvalidOutcome, o.Eligibility)
	case !o.HealthClass.Valid():
		return fmt.Errorf("%w: health class %q", ErrInvalidOutcome, o.HealthClass)
	case !o.TableRating.Valid():
		return fmt.Errorf("%w: table rating %q", ErrInvalidOutcome, o.TableRating)
	}
	return nil
}

// DefaultOutcome is the fallback when no rule matches and none is configured.
func DefaultOutcome() Outcome {
	return Outcome{
		Eligibility: EligibilityEligible,
		HealthClass: HealthStandard,
		Reason:      "no underwriting rule matched",
	}
}
