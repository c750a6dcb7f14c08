// Package importer loads rule sets from YAML or JSON documents and writes
// them through a store after validating the whole document.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/commissiontracker/underwriter/internal/rules"
	"github.com/commissiontracker/underwriter/internal/types"
)

// Document is the import file layout:
//
//	rule_sets:
//	  - name: Type 2 diabetes
//	    scope: {carrier_id: acme, condition_code: diabetes_type_2}
//	    rules:
//	      - name: A1C above 10
//	        predicate: {version: 2, root: {type: numeric, field: diabetes_type_2.a1c, operator: gt, value: 10}}
//	        outcome: {eligibility: ineligible, health_class: decline}
type Document struct {
	RuleSets []types.RuleSet `json:"rule_sets"`
}

// Parse decodes a document. YAML is read into generic values and re-encoded
// as JSON so predicates go through the same wire codec as the API.
func Parse(r io.Reader) ([]types.RuleSet, error) {
	var raw any
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("importer: empty document")
		}
		return nil, eris.Wrap(err, "importer: parse yaml")
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, eris.Wrap(err, "importer: re-encode document")
	}

	var doc Document
	jdec := json.NewDecoder(bytes.NewReader(data))
	jdec.DisallowUnknownFields()
	if err := jdec.Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "importer: decode rule sets")
	}
	if len(doc.RuleSets) == 0 {
		return nil, eris.New("importer: document has no rule_sets")
	}

	for i := range doc.RuleSets {
		doc.RuleSets[i].Rules = assignMissingPriorities(doc.RuleSets[i].Rules)
	}
	return doc.RuleSets, nil
}

// ParseFile reads and parses the document at path.
func ParseFile(path string) ([]types.RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open %s", path)
	}
	defer f.Close()
	return Parse(f)
}

// assignMissingPriorities numbers rules that omit a priority with the import
// tie-break and places them after the highest explicit priority. Explicit
// priorities are kept as written.
func assignMissingPriorities(rs []types.Rule) []types.Rule {
	var explicit, missing []types.Rule
	highest := 0
	for _, r := range rs {
		if r.Priority != 0 {
			explicit = append(explicit, r)
			highest = max(highest, r.Priority)
			continue
		}
		missing = append(missing, r)
	}
	if len(missing) == 0 {
		return rs
	}

	assigned := rules.AssignPriorities(missing)
	for i := range assigned {
		assigned[i].Priority += highest
	}
	return append(explicit, assigned...)
}

// Writer persists validated rule sets atomically.
type Writer interface {
	CreateRuleSets(ctx context.Context, sets []types.RuleSet) ([]types.RuleSet, error)
}

// Summary reports what an import wrote.
type Summary struct {
	RuleSets []types.RuleSetID
	Rules    int
}

// Importer validates a batch of rule sets and writes them.
type Importer struct {
	w      Writer
	fields rules.FieldResolver
	logger *zap.Logger
}

// New returns an importer writing to w. A nil logger discards output.
func New(w Writer, fields rules.FieldResolver, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{w: w, fields: fields, logger: logger}
}

// Validate checks every rule set and returns all errors with
// /rule_sets/i paths.
func (im *Importer) Validate(sets []types.RuleSet) error {
	var errs types.ValidationErrors
	for i := range sets {
		if err := rules.ValidateRuleSet(&sets[i], im.fields); err != nil {
			var verrs types.ValidationErrors
			if !errors.As(err, &verrs) {
				return err
			}
			errs = append(errs, verrs.Prefix("/rule_sets/"+strconv.Itoa(i))...)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Import validates every rule set, then writes them in one batch. A document
// with validation errors or a failed write stores nothing.
func (im *Importer) Import(ctx context.Context, sets []types.RuleSet) (Summary, error) {
	if err := im.Validate(sets); err != nil {
		return Summary{}, err
	}

	written, err := im.w.CreateRuleSets(ctx, sets)
	if err != nil {
		return Summary{}, eris.Wrapf(err, "importer: write %d rule set(s)", len(sets))
	}

	var sum Summary
	for _, created := range written {
		sum.RuleSets = append(sum.RuleSets, created.ID)
		sum.Rules += len(created.Rules)
		im.logger.Info("imported rule set",
			zap.String("rule_set_id", string(created.ID)),
			zap.String("name", created.Name),
			zap.String("carrier_id", created.Scope.CarrierID),
			zap.Int("rules", len(created.Rules)),
		)
	}
	return sum, nil
}
