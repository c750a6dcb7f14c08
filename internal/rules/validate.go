// internal/rules/validate.go
package rules

import (
	"fmt"
	"math"
	"strconv"

	"github.com/commissiontracker/underwriter/internal/registry"
	"github.com/commissiontracker/underwriter/internal/types"
)

/*
 * Predicate and rule validation.
 *
 * Validation accumulates: one pass reports every problem with a path so a
 * rule author can fix them together. A nil result means the predicate is safe
 * to evaluate: every field resolves, every operator is in its kind's family,
 * every value has the operator's shape, and groups have legal arity.
 *
 * Paths follow the wire layout: /root/all/0/value, /root/not/field.
 * Rule paths nest predicate paths under /predicate.
 *
 * Structural limits (depth, node count, cycles) stop descent at the offending
 * node so a hostile tree cannot exhaust the stack.
 */

// FieldResolver resolves field keys to definitions. *registry.Registry implements it.
type FieldResolver interface {
	Resolve(key string) (registry.FieldDefinition, error)
}

type validator struct {
	fields FieldResolver
	errs   types.ValidationErrors
	onPath map[*types.Group]bool
	nodes  int
}

func (v *validator) add(path, field string, err error, detail string) {
	v.errs = append(v.errs, types.ValidationError{Path: path, Field: field, Err: err, Detail: detail})
}

// Validate checks a predicate against the field registry.
// Returns nil or types.ValidationErrors.
func Validate(p types.Predicate, fields FieldResolver) error {
	v := &validator{fields: fields, onPath: make(map[*types.Group]bool)}
	v.predicate(p, "")
	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

func (v *validator) predicate(p types.Predicate, prefix string) {
	if p.Version != types.PredicateVersion {
		v.add(prefix+"/version", "", types.ErrUnsupportedVersion,
			fmt.Sprintf("got %d, want %d", p.Version, types.PredicateVersion))
	}
	if p.Root == nil {
		v.add(prefix+"/root", "", types.ErrEmptyPredicate, "")
		return
	}
	v.node(p.Root, prefix+"/root", 1)
}

func (v *validator) node(n types.Node, path string, depth int) {
	if depth > types.MaxPredicateDepth {
		v.add(path, "", types.ErrPredicateTooDeep, fmt.Sprintf("depth exceeds %d", types.MaxPredicateDepth))
		return
	}
	v.nodes++
	if v.nodes == types.MaxPredicateNodes+1 {
		v.add(path, "", types.ErrPredicateTooDeep, fmt.Sprintf("more than %d nodes", types.MaxPredicateNodes))
	}
	if v.nodes > types.MaxPredicateNodes {
		return
	}

	switch n := n.(type) {
	case *types.Condition:
		if n == nil {
			v.add(path, "", types.ErrMalformedPredicate, "nil condition")
			return
		}
		v.condition(n, path)

	case *types.Group:
		if n == nil {
			v.add(path, "", types.ErrMalformedPredicate, "nil group")
			return
		}
		if v.onPath[n] {
			v.add(path, "", types.ErrPredicateCycle, "")
			return
		}
		v.onPath[n] = true
		defer delete(v.onPath, n)
		v.group(n, path, depth)

	default:
		v.add(path, "", types.ErrMalformedPredicate, "node is neither a condition nor a group")
	}
}

func (v *validator) group(g *types.Group, path string, depth int) {
	switch g.Combinator {
	case types.CombinatorAll, types.CombinatorAny:
		if len(g.Children) == 0 {
			v.add(path+"/"+string(g.Combinator), "", types.ErrGroupArity, "needs at least one child")
		}
		for i, child := range g.Children {
			v.node(child, path+"/"+string(g.Combinator)+"/"+strconv.Itoa(i), depth+1)
		}
	case types.CombinatorNot:
		if len(g.Children) != 1 {
			v.add(path+"/not", "", types.ErrGroupArity, fmt.Sprintf("needs exactly one child, has %d", len(g.Children)))
		}
		for _, child := range g.Children {
			v.node(child, path+"/not", depth+1)
		}
	default:
		v.add(path, "", types.ErrUnknownCombinator, strconv.Quote(string(g.Combinator)))
	}
}

func (v *validator) condition(c *types.Condition, path string) {
	kindOK := c.Kind.Valid()
	if !kindOK {
		v.add(path+"/type", c.Field, types.ErrUnknownKind, strconv.Quote(string(c.Kind)))
	}

	var def registry.FieldDefinition
	fieldOK := false
	switch {
	case c.Field == "":
		v.add(path+"/field", "", &types.UnknownFieldError{Category: registry.ClientCategory}, "field is required")
	default:
		var err error
		def, err = v.fields.Resolve(c.Field)
		if err != nil {
			v.add(path+"/field", c.Field, err, "")
		} else {
			fieldOK = true
		}
	}

	if kindOK && c.Kind == types.KindPresence && c.Field != registry.ConditionsField && c.Field != "" {
		v.add(path+"/field", c.Field, types.ErrKindMismatch,
			fmt.Sprintf("condition_presence applies only to %q", registry.ConditionsField))
	} else if kindOK && fieldOK && !c.Kind.AcceptsFieldType(def.Type) {
		v.add(path+"/type", c.Field, types.ErrKindMismatch,
			fmt.Sprintf("%s condition on %s field", c.Kind, def.Type))
	}

	if !c.NullHandling.Valid() {
		v.add(path+"/treatNullAs", c.Field, types.ErrInvalidNullHandling, strconv.Quote(string(c.NullHandling)))
	}

	if !kindOK {
		return
	}
	want, ok := types.ExpectedShape(c.Kind, c.Operator)
	if !ok {
		v.add(path+"/operator", c.Field, types.ErrInvalidOperator,
			fmt.Sprintf("%q (%s) is not a %s operator", c.Operator, registry.OperatorLabel(c.Operator), c.Kind))
		return
	}
	if c.Value.Shape != want {
		v.add(path+"/value", c.Field, types.ErrValueShape,
			fmt.Sprintf("%s expects %s, got %s", c.Operator, want, c.Value.Shape))
		return
	}
	v.value(c, path+"/value")
	if fieldOK && c.Value.Shape == types.ShapeList {
		v.options(c, def, path+"/value")
	}
}

// options reports list items the field does not offer.
func (v *validator) options(c *types.Condition, def registry.FieldDefinition, path string) {
	for i, item := range c.Value.List {
		if !def.HasOption(item) {
			v.add(path+"/"+strconv.Itoa(i), c.Field, types.ErrUnknownOption, strconv.Quote(item))
		}
	}
}

func (v *validator) value(c *types.Condition, path string) {
	val := c.Value
	switch val.Shape {
	case types.ShapeNumber:
		if math.IsNaN(val.Number) || math.IsInf(val.Number, 0) {
			v.add(path, c.Field, types.ErrValueShape, "value must be finite")
			return
		}
		if isElapsedOperator(c.Operator) && (val.Number < 0 || val.Number != math.Trunc(val.Number)) {
			v.add(path, c.Field, types.ErrInvalidThreshold, val.Describe())
		}
	case types.ShapeRange:
		if val.Low > val.High {
			v.add(path, c.Field, types.ErrInvalidRange, val.Describe())
		}
	case types.ShapeList:
		if len(val.List) == 0 {
			v.add(path, c.Field, types.ErrValueShape, "list needs at least one value")
		}
		if len(val.List) > types.MaxListValues {
			v.add(path, c.Field, types.ErrValueShape, fmt.Sprintf("list exceeds %d values", types.MaxListValues))
		}
	}
}

func isElapsedOperator(op types.Operator) bool {
	switch op {
	case types.OpYearsSinceLte, types.OpYearsSinceGte, types.OpMonthsSinceLte, types.OpMonthsSinceGte:
		return true
	}
	return false
}

// ValidateRule checks the predicate and the rule's own fields.
func ValidateRule(rule *types.Rule, fields FieldResolver) error {
	v := &validator{fields: fields, onPath: make(map[*types.Group]bool)}
	v.rule(rule, "")
	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

func (v *validator) rule(rule *types.Rule, prefix string) {
	v.nodes = 0
	v.predicate(rule.Predicate, prefix+"/predicate")

	if rule.Priority < 1 {
		v.add(prefix+"/priority", "", types.ErrInvalidPriority, strconv.Itoa(rule.Priority))
	}
	if err := rule.Outcome.Validate(); err != nil {
		v.add(prefix+"/outcome", "", err, "")
	}
	if rule.AgeBandMin != nil && *rule.AgeBandMin < 0 {
		v.add(prefix+"/age_band_min", "", types.ErrInvalidAgeBand, "must not be negative")
	}
	if rule.AgeBandMin != nil && rule.AgeBandMax != nil && *rule.AgeBandMin > *rule.AgeBandMax {
		v.add(prefix+"/age_band_max", "", types.ErrInvalidAgeBand,
			fmt.Sprintf("min %d exceeds max %d", *rule.AgeBandMin, *rule.AgeBandMax))
	}
	if !rule.Gender.Valid() {
		v.add(prefix+"/gender", "", types.ErrInvalidGender, strconv.Quote(string(rule.Gender)))
	}
}

// ValidateRuleSet checks the scope and every rule.
func ValidateRuleSet(rs *types.RuleSet, fields FieldResolver) error {
	v := &validator{fields: fields, onPath: make(map[*types.Group]bool)}
	if rs.Scope.CarrierID == "" {
		v.add("/scope/carrier_id", "", types.ErrInvalidScope, "carrier is required")
	}
	for i := range rs.Rules {
		v.rule(&rs.Rules[i], "/rules/"+strconv.Itoa(i))
	}
	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}
