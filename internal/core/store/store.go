// Package store persists rule sets, rules and API keys, and performs the
// scope selection the resolution engine leaves to its caller.
//
// Every write validates against the field registry first, so anything the
// store returns compiles. Rules are soft-deleted; history stays queryable
// through GetRuleSet.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"

	"github.com/commissiontracker/underwriter/internal/core/db"
	"github.com/commissiontracker/underwriter/internal/rules"
	"github.com/commissiontracker/underwriter/internal/types"
)

// Store is the SQL-backed rule repository.
type Store struct {
	conn   *sqlx.DB
	q      *db.Queries
	fields rules.FieldResolver
	now    func() time.Time
}

// New binds a store to a migrated database. fields is the registry used to
// validate rules on write.
func New(conn *sqlx.DB, fields rules.FieldResolver) (*Store, error) {
	q, err := db.LoadQueries(conn)
	if err != nil {
		return nil, err
	}
	return &Store{
		conn:   conn,
		q:      q,
		fields: fields,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

type ruleSetRow struct {
	ID            string         `db:"rule_set_id"`
	Name          string         `db:"name"`
	CarrierID     string         `db:"carrier_id"`
	ProductID     sql.NullString `db:"product_id"`
	ConditionCode sql.NullString `db:"condition_code"`
	Variant       string         `db:"variant"`
	IsActive      bool           `db:"is_active"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r ruleSetRow) toRuleSet() types.RuleSet {
	rs := types.RuleSet{
		ID:       types.RuleSetID(r.ID),
		Name:     r.Name,
		Scope:    types.Scope{CarrierID: r.CarrierID, Variant: r.Variant},
		IsActive: r.IsActive,
	}
	if r.ProductID.Valid {
		p := r.ProductID.String
		rs.Scope.ProductID = &p
	}
	if r.ConditionCode.Valid {
		c := r.ConditionCode.String
		rs.Scope.ConditionCode = &c
	}
	return rs
}

type ruleRow struct {
	ID               string         `db:"rule_id"`
	RuleSetID        string         `db:"rule_set_id"`
	Name             string         `db:"name"`
	Description      string         `db:"description"`
	Priority         int            `db:"priority"`
	Position         int            `db:"position"`
	Predicate        string         `db:"predicate"`
	PredicateVersion int            `db:"predicate_version"`
	Eligibility      string         `db:"outcome_eligibility"`
	HealthClass      string         `db:"outcome_health_class"`
	TableRating      string         `db:"outcome_table_rating"`
	Reason           string         `db:"outcome_reason"`
	Concerns         string         `db:"outcome_concerns"`
	AgeBandMin       sql.NullInt64  `db:"age_band_min"`
	AgeBandMax       sql.NullInt64  `db:"age_band_max"`
	Gender           string         `db:"gender"`
	IsActive         bool           `db:"is_active"`
}

func (r ruleRow) toRule() (types.Rule, error) {
	rule := types.Rule{
		ID:          types.RuleID(r.ID),
		RuleSetID:   types.RuleSetID(r.RuleSetID),
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		Outcome: types.Outcome{
			Eligibility: types.Eligibility(r.Eligibility),
			HealthClass: types.HealthClass(r.HealthClass),
			TableRating: types.TableRating(r.TableRating),
			Reason:      r.Reason,
		},
		IsActive: r.IsActive,
		Gender:   types.Gender(r.Gender),
	}
	if err := json.Unmarshal([]byte(r.Predicate), &rule.Predicate); err != nil {
		return types.Rule{}, eris.Wrapf(err, "store: decode predicate of rule %s", r.ID)
	}
	if r.Concerns != "" {
		if err := json.Unmarshal([]byte(r.Concerns), &rule.Outcome.Concerns); err != nil {
			return types.Rule{}, eris.Wrapf(err, "store: decode concerns of rule %s", r.ID)
		}
	}
	if r.AgeBandMin.Valid {
		v := int(r.AgeBandMin.Int64)
		rule.AgeBandMin = &v
	}
	if r.AgeBandMax.Valid {
		v := int(r.AgeBandMax.Int64)
		rule.AgeBandMax = &v
	}
	return rule, nil
}

// CreateRuleSet validates rs and every rule, then inserts them in one
// transaction. Missing IDs are generated; rule order becomes the insertion
// position used to break priority ties.
func (s *Store) CreateRuleSet(ctx context.Context, rs types.RuleSet) (types.RuleSet, error) {
	if err := prepareRuleSet(&rs, s.fields); err != nil {
		return types.RuleSet{}, err
	}
	now := s.now()
	err := s.q.InTx(ctx, s.conn, func(tx *db.Queries) error {
		return insertRuleSet(ctx, tx, &rs, now)
	})
	if err != nil {
		return types.RuleSet{}, err
	}
	return rs, nil
}

// CreateRuleSets validates every rule set, then inserts all of them in one
// transaction: either every set is stored or none is. Validation errors
// carry /rule_sets/i paths.
func (s *Store) CreateRuleSets(ctx context.Context, sets []types.RuleSet) ([]types.RuleSet, error) {
	out := make([]types.RuleSet, len(sets))
	for i := range sets {
		out[i] = sets[i]
		if err := prepareRuleSet(&out[i], s.fields); err != nil {
			var verrs types.ValidationErrors
			if errors.As(err, &verrs) {
				return nil, verrs.Prefix("/rule_sets/" + strconv.Itoa(i))
			}
			return nil, err
		}
	}

	now := s.now()
	err := s.q.InTx(ctx, s.conn, func(tx *db.Queries) error {
		for i := range out {
			if err := insertRuleSet(ctx, tx, &out[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// prepareRuleSet validates rs, checks caller-supplied IDs and fills in the
// missing ones. rs.Rules is copied so the caller's slice is left alone.
func prepareRuleSet(rs *types.RuleSet, fields rules.FieldResolver) error {
	if err := rules.ValidateRuleSet(rs, fields); err != nil {
		return err
	}

	if rs.ID == "" {
		rs.ID = types.NewRuleSetID()
	} else if _, err := types.ParseRuleSetID(string(rs.ID)); err != nil {
		return err
	}
	rs.Rules = append([]types.Rule(nil), rs.Rules...)
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.ID == "" {
			r.ID = types.NewRuleID()
		} else if _, err := types.ParseRuleID(string(r.ID)); err != nil {
			return err
		}
		r.RuleSetID = rs.ID
	}
	return nil
}

func insertRuleSet(ctx context.Context, tx *db.Queries, rs *types.RuleSet, now time.Time) error {
	_, err := tx.Exec(ctx, "create-rule-set",
		string(rs.ID), rs.Name, rs.Scope.CarrierID,
		nullable(rs.Scope.ProductID), nullable(rs.Scope.ConditionCode),
		rs.Scope.Variant, rs.IsActive, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "store: insert rule set %s", rs.ID)
	}
	for i := range rs.Rules {
		if err := insertRule(ctx, tx, &rs.Rules[i], i, now); err != nil {
			return err
		}
	}
	return nil
}

// AddRule validates rule and appends it to an existing rule set.
func (s *Store) AddRule(ctx context.Context, setID types.RuleSetID, rule types.Rule) (types.Rule, error) {
	if err := rules.ValidateRule(&rule, s.fields); err != nil {
		return types.Rule{}, err
	}

	if _, err := types.ParseRuleSetID(string(setID)); err != nil {
		return types.Rule{}, err
	}
	rule.RuleSetID = setID
	if rule.ID == "" {
		rule.ID = types.NewRuleID()
	} else if _, err := types.ParseRuleID(string(rule.ID)); err != nil {
		return types.Rule{}, err
	}
	now := s.now()

	err := s.q.InTx(ctx, s.conn, func(tx *db.Queries) error {
		var row ruleSetRow
		if err := tx.Get(ctx, "get-rule-set", &row, string(setID)); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", types.ErrRuleSetNotFound, setID)
			}
			return eris.Wrapf(err, "store: get rule set %s", setID)
		}

		var position int
		if err := tx.Get(ctx, "next-rule-position", &position, string(setID)); err != nil {
			return eris.Wrapf(err, "store: next position in %s", setID)
		}
		return insertRule(ctx, tx, &rule, position, now)
	})
	if err != nil {
		return types.Rule{}, err
	}
	return rule, nil
}

func insertRule(ctx context.Context, tx *db.Queries, rule *types.Rule, position int, now time.Time) error {
	predicate, err := json.Marshal(rule.Predicate)
	if err != nil {
		return eris.Wrapf(err, "store: encode predicate of rule %s", rule.ID)
	}
	concerns := rule.Outcome.Concerns
	if concerns == nil {
		concerns = []string{}
	}
	concernsJSON, err := json.Marshal(concerns)
	if err != nil {
		return eris.Wrapf(err, "store: encode concerns of rule %s", rule.ID)
	}

	_, err = tx.Exec(ctx, "create-rule",
		string(rule.ID), string(rule.RuleSetID), rule.Name, rule.Description, rule.Priority, position,
		string(predicate), types.PredicateVersion,
		string(rule.Outcome.Eligibility), string(rule.Outcome.HealthClass), string(rule.Outcome.TableRating),
		rule.Outcome.Reason, string(concernsJSON),
		nullableInt(rule.AgeBandMin), nullableInt(rule.AgeBandMax), string(rule.Gender),
		rule.IsActive, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "store: insert rule %s", rule.ID)
	}
	return nil
}

// DeactivateRule soft-deletes a rule.
func (s *Store) DeactivateRule(ctx context.Context, id types.RuleID) error {
	if _, err := types.ParseRuleID(string(id)); err != nil {
		return err
	}
	res, err := s.q.Exec(ctx, "deactivate-rule", s.now(), string(id))
	if err != nil {
		return eris.Wrapf(err, "store: deactivate rule %s", id)
	}
	return requireRow(res, fmt.Errorf("%w: %s", types.ErrRuleNotFound, id))
}

// DeactivateRuleSet soft-deletes a rule set; its rules stop being applicable.
func (s *Store) DeactivateRuleSet(ctx context.Context, id types.RuleSetID) error {
	if _, err := types.ParseRuleSetID(string(id)); err != nil {
		return err
	}
	res, err := s.q.Exec(ctx, "deactivate-rule-set", s.now(), string(id))
	if err != nil {
		return eris.Wrapf(err, "store: deactivate rule set %s", id)
	}
	return requireRow(res, fmt.Errorf("%w: %s", types.ErrRuleSetNotFound, id))
}

// GetRuleSet returns a rule set with all of its rules, inactive ones included.
func (s *Store) GetRuleSet(ctx context.Context, id types.RuleSetID) (types.RuleSet, error) {
	if _, err := types.ParseRuleSetID(string(id)); err != nil {
		return types.RuleSet{}, err
	}
	var row ruleSetRow
	if err := s.q.Get(ctx, "get-rule-set", &row, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.RuleSet{}, fmt.Errorf("%w: %s", types.ErrRuleSetNotFound, id)
		}
		return types.RuleSet{}, eris.Wrapf(err, "store: get rule set %s", id)
	}

	rs := row.toRuleSet()
	loaded, err := s.loadRules(ctx, rs.ID, false)
	if err != nil {
		return types.RuleSet{}, err
	}
	rs.Rules = loaded
	return rs, nil
}

// ListApplicable returns the active rule sets for a carrier whose product is
// unset or equal to productID and whose condition code is unset or among
// conditionCodes. Only active rules are included, ordered by priority then
// insertion position. General rule sets come before condition-specific ones.
func (s *Store) ListApplicable(ctx context.Context, carrierID, productID string, conditionCodes []string) ([]types.RuleSet, error) {
	var rows []ruleSetRow
	if err := s.q.Select(ctx, "list-rule-sets-for-carrier", &rows, carrierID, productID); err != nil {
		return nil, eris.Wrapf(err, "store: list rule sets for %s", carrierID)
	}

	declared := make(map[string]struct{}, len(conditionCodes))
	for _, c := range conditionCodes {
		declared[c] = struct{}{}
	}

	var sets []types.RuleSet
	for _, row := range rows {
		if row.ConditionCode.Valid {
			if _, ok := declared[row.ConditionCode.String]; !ok {
				continue
			}
		}
		rs := row.toRuleSet()
		loaded, err := s.loadRules(ctx, rs.ID, true)
		if err != nil {
			return nil, err
		}
		rs.Rules = loaded
		sets = append(sets, rs)
	}
	return sets, nil
}

func (s *Store) loadRules(ctx context.Context, id types.RuleSetID, activeOnly bool) ([]types.Rule, error) {
	var rows []ruleRow
	if err := s.q.Select(ctx, "list-rules-for-set", &rows, string(id)); err != nil {
		return nil, eris.Wrapf(err, "store: list rules for %s", id)
	}

	out := make([]types.Rule, 0, len(rows))
	for _, row := range rows {
		if activeOnly && !row.IsActive {
			continue
		}
		rule, err := row.toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
