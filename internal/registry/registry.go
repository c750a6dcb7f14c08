// Package registry is the catalog of fields predicates may reference.
//
// Client fields ("client.age", "conditions") apply to every rule. Condition
// fields are scoped to one condition code and keyed "<code>.<name>".
// Readers never lock: the catalog is an immutable snapshot swapped atomically
// when a condition is registered.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/commissiontracker/underwriter/internal/types"
)

// ClientCategory is the category of fields available to every rule.
const ClientCategory = "client"

// ConditionsField is the key of the declared condition list.
const ConditionsField = "conditions"

// Option is one allowed value of a set or array field.
type Option struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// FieldDefinition describes one field.
type FieldDefinition struct {
	Key         string          `yaml:"key" json:"key"`
	Category    string          `yaml:"-" json:"category"`
	Type        types.FieldType `yaml:"type" json:"type"`
	Label       string          `yaml:"label" json:"label"`
	Unit        string          `yaml:"unit,omitempty" json:"unit,omitempty"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Options     []Option        `yaml:"options,omitempty" json:"options,omitempty"`
}

// HasOption reports whether v is one of the field's options.
// Fields without options accept any value.
func (f FieldDefinition) HasOption(v string) bool {
	if len(f.Options) == 0 {
		return true
	}
	for _, o := range f.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}

type catalog struct {
	client     map[string]FieldDefinition
	conditions map[string]map[string]FieldDefinition
}

// Registry resolves field keys to definitions.
type Registry struct {
	current atomic.Pointer[catalog]
	mu      sync.Mutex // serializes writers
}

// New builds a registry from client fields and per-condition fields.
func New(client []FieldDefinition, conditions map[string][]FieldDefinition) (*Registry, error) {
	cat := &catalog{
		client:     make(map[string]FieldDefinition, len(client)),
		conditions: make(map[string]map[string]FieldDefinition, len(conditions)),
	}
	for _, f := range client {
		if err := checkField(f, ""); err != nil {
			return nil, err
		}
		f.Category = ClientCategory
		cat.client[f.Key] = f
	}
	for code, fields := range conditions {
		scoped, err := buildCondition(code, fields)
		if err != nil {
			return nil, err
		}
		cat.conditions[code] = scoped
	}

	r := &Registry{}
	r.current.Store(cat)
	return r, nil
}

// Lookup returns the definition of key within category.
// For a condition category, key may omit the "<code>." prefix.
func (r *Registry) Lookup(category, key string) (FieldDefinition, error) {
	cat := r.current.Load()
	if category == ClientCategory {
		if f, ok := cat.client[key]; ok {
			return f, nil
		}
		return FieldDefinition{}, &types.UnknownFieldError{Category: category, Field: key}
	}
	fields := cat.conditions[category]
	if f, ok := fields[key]; ok {
		return f, nil
	}
	if f, ok := fields[category+"."+key]; ok {
		return f, nil
	}
	return FieldDefinition{}, &types.UnknownFieldError{Category: category, Field: key}
}

// Resolve returns the definition of a fully qualified key.
// Client fields are checked first, then the condition named by the key prefix.
func (r *Registry) Resolve(key string) (FieldDefinition, error) {
	cat := r.current.Load()
	if f, ok := cat.client[key]; ok {
		return f, nil
	}
	code, _, found := strings.Cut(key, ".")
	if !found {
		return FieldDefinition{}, &types.UnknownFieldError{Category: ClientCategory, Field: key}
	}
	if f, ok := cat.conditions[code][key]; ok {
		return f, nil
	}
	return FieldDefinition{}, &types.UnknownFieldError{Category: code, Field: key}
}

// FieldsForClient returns the client fields sorted by key.
func (r *Registry) FieldsForClient() []FieldDefinition {
	return sortedFields(r.current.Load().client)
}

// FieldsForCondition returns the fields of one condition sorted by key;
// empty for an unknown code.
func (r *Registry) FieldsForCondition(code string) []FieldDefinition {
	return sortedFields(r.current.Load().conditions[code])
}

// ConditionCodes returns the codes with registered fields, sorted.
func (r *Registry) ConditionCodes() []string {
	cat := r.current.Load()
	codes := make([]string, 0, len(cat.conditions))
	for code := range cat.conditions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// RegisterCondition adds or replaces the fields of one condition.
// Readers holding the previous snapshot keep seeing it.
func (r *Registry) RegisterCondition(code string, fields []FieldDefinition) error {
	scoped, err := buildCondition(code, fields)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	next := &catalog{
		client:     withConditionOption(old.client, code),
		conditions: make(map[string]map[string]FieldDefinition, len(old.conditions)+1),
	}
	for c, f := range old.conditions {
		next.conditions[c] = f
	}
	next.conditions[code] = scoped
	r.current.Store(next)
	return nil
}

// withConditionOption returns client with code offered by the conditions
// field. The input map is shared with older snapshots and is not modified.
func withConditionOption(client map[string]FieldDefinition, code string) map[string]FieldDefinition {
	def, ok := client[ConditionsField]
	if !ok || len(def.Options) == 0 || def.HasOption(code) {
		return client
	}
	next := make(map[string]FieldDefinition, len(client))
	for k, f := range client {
		next[k] = f
	}
	def.Options = append(append([]Option(nil), def.Options...), Option{Value: code, Label: code})
	next[ConditionsField] = def
	return next
}

// OperatorsFor returns the operators available for a field type.
func OperatorsFor(t types.FieldType) []types.Operator {
	if !t.Valid() {
		return nil
	}
	return types.KindFor(t).Operators()
}

var operatorLabels = map[types.Operator]string{
	types.OpEq:             "equals",
	types.OpNeq:            "not equals",
	types.OpGt:             "greater than",
	types.OpGte:            "greater than or equal",
	types.OpLt:             "less than",
	types.OpLte:            "less than or equal",
	types.OpBetween:        "between",
	types.OpYearsSinceGte:  "years since >=",
	types.OpYearsSinceLte:  "years since <=",
	types.OpMonthsSinceGte: "months since >=",
	types.OpMonthsSinceLte: "months since <=",
	types.OpContains:       "contains",
	types.OpStartsWith:     "starts with",
	types.OpEndsWith:       "ends with",
	types.OpIn:             "in",
	types.OpNotIn:          "not in",
	types.OpIncludesAny:    "includes any",
	types.OpIncludesAll:    "includes all",
	types.OpIsEmpty:        "is empty",
	types.OpIsNotEmpty:     "is not empty",
	types.OpIsNull:         "is null",
	types.OpIsNotNull:      "is not null",
}

// OperatorLabel returns a display label for op, or op itself when unlabelled.
func OperatorLabel(op types.Operator) string {
	if l, ok := operatorLabels[op]; ok {
		return l
	}
	return string(op)
}

func buildCondition(code string, fields []FieldDefinition) (map[string]FieldDefinition, error) {
	if code == "" || strings.Contains(code, ".") {
		return nil, fmt.Errorf("registry: invalid condition code %q", code)
	}
	scoped := make(map[string]FieldDefinition, len(fields))
	for _, f := range fields {
		if err := checkField(f, code); err != nil {
			return nil, err
		}
		f.Category = code
		scoped[f.Key] = f
	}
	return scoped, nil
}

func checkField(f FieldDefinition, code string) error {
	if f.Key == "" {
		return fmt.Errorf("registry: field without key")
	}
	if !f.Type.Valid() {
		return fmt.Errorf("registry: field %q: unknown type %q", f.Key, f.Type)
	}
	if code != "" && !strings.HasPrefix(f.Key, code+".") {
		return fmt.Errorf("registry: field %q must be prefixed with %q", f.Key, code+".")
	}
	return nil
}

func sortedFields(m map[string]FieldDefinition) []FieldDefinition {
	out := make([]FieldDefinition, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
