// internal/types/ids.go
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// RuleID identifies a rule. UUIDv7 string.
type RuleID string

// RuleSetID identifies a rule set. UUIDv7 string.
type RuleSetID string

// NewRuleID generates a UUIDv7 rule identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()).String())
}

// NewRuleSetID generates a UUIDv7 rule set identifier.
func NewRuleSetID() RuleSetID {
	return RuleSetID(uuid.Must(uuid.NewV7()).String())
}

// ParseRuleID validates and converts a string to RuleID.
func ParseRuleID(s string) (RuleID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: rule %q", ErrInvalidID, s)
	}
	return RuleID(s), nil
}

// ParseRuleSetID validates and converts a string to RuleSetID.
func ParseRuleSetID(s string) (RuleSetID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: rule set %q", ErrInvalidID, s)
	}
	return RuleSetID(s), nil
}
