// internal/types/codec.go
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

/*
 * JSON wire format for predicates.
 *
 *   {"version": 2, "root": <node>}
 *   leaf:   {"type": "numeric", "field": "client.age", "operator": "gte",
 *            "value": 50, "treatNullAs": "treat_as_false"}
 *   group:  {"all": [<node>...]} | {"any": [<node>...]} | {"not": <node>}
 *
 * A document without "version" is a version 1 predicate: the document itself
 * is the root node. It is upgraded to the current version on decode.
 *
 * Decoding is structural only. Unknown kinds, operators, and shape mismatches
 * decode successfully and are reported by the validator with their paths.
 * Numeric list items decode to their shortest decimal text, the same form
 * numeric facts take, so 2.0 and 1e2 in a predicate match facts 2 and 100.
 */

// MarshalJSON encodes the predicate in the current wire version.
func (p Predicate) MarshalJSON() ([]byte, error) {
	root, err := encodeNode(p.Root, 1)
	if err != nil {
		return nil, err
	}
	version := p.Version
	if version == 0 || version == 1 {
		version = PredicateVersion
	}
	return json.Marshal(struct {
		Version int `json:"version"`
		Root    any `json:"root"`
	}{version, root})
}

// UnmarshalJSON decodes a versioned document or a bare version 1 root node.
func (p *Predicate) UnmarshalJSON(data []byte) error {
	var head map[string]json.RawMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: predicate must be an object: %v", ErrMalformedPredicate, err)
	}

	rawVersion, versioned := head["version"]
	if !versioned {
		*p = Predicate{Version: PredicateVersion}
		if len(head) == 0 {
			return nil
		}
		root, err := decodeNode(data, "/root", 1)
		if err != nil {
			return err
		}
		p.Root = root
		return nil
	}

	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return fmt.Errorf("%w: /version: %v", ErrMalformedPredicate, err)
	}
	if version == 1 {
		version = PredicateVersion
	}

	var root Node
	if raw, ok := head["root"]; ok && !isNull(raw) {
		var err error
		if root, err = decodeNode(raw, "/root", 1); err != nil {
			return err
		}
	}
	*p = Predicate{Version: version, Root: root}
	return nil
}

type wireCondition struct {
	Type        string          `json:"type"`
	Field       string          `json:"field"`
	Operator    string          `json:"operator"`
	Value       json.RawMessage `json:"value,omitempty"`
	TreatNullAs string          `json:"treatNullAs,omitempty"`
}

type wireConditionOut struct {
	Type        ConditionKind `json:"type"`
	Field       string        `json:"field"`
	Operator    Operator      `json:"operator"`
	Value       any           `json:"value,omitempty"`
	TreatNullAs NullHandling  `json:"treatNullAs,omitempty"`
}

func encodeNode(n Node, depth int) (any, error) {
	if depth > MaxPredicateDepth {
		return nil, fmt.Errorf("%w: depth exceeds %d", ErrPredicateTooDeep, MaxPredicateDepth)
	}
	switch n := n.(type) {
	case nil:
		return nil, nil
	case *Condition:
		if n == nil {
			return nil, nil
		}
		return wireConditionOut{
			Type:        n.Kind,
			Field:       n.Field,
			Operator:    n.Operator,
			Value:       encodeValue(n.Value),
			TreatNullAs: n.NullHandling,
		}, nil
	case *Group:
		if n == nil {
			return nil, nil
		}
		children := make([]any, len(n.Children))
		for i, child := range n.Children {
			enc, err := encodeNode(child, depth+1)
			if err != nil {
				return nil, err
			}
			children[i] = enc
		}
		if n.Combinator == CombinatorNot && len(children) == 1 {
			return map[string]any{string(CombinatorNot): children[0]}, nil
		}
		return map[string]any{string(n.Combinator): children}, nil
	}
	return nil, fmt.Errorf("%w: unsupported node %T", ErrMalformedPredicate, n)
}

func encodeValue(v Value) any {
	switch v.Shape {
	case ShapeNumber:
		return v.Number
	case ShapeRange:
		return []float64{v.Low, v.High}
	case ShapeBool:
		return v.Bool
	case ShapeString:
		return v.String
	case ShapeList:
		if v.List == nil {
			return []string{}
		}
		return v.List
	}
	return nil
}

func decodeNode(raw json.RawMessage, path string, depth int) (Node, error) {
	if depth > MaxPredicateDepth {
		return nil, fmt.Errorf("%w: %s: depth exceeds %d", ErrPredicateTooDeep, path, MaxPredicateDepth)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: %s: node must be an object", ErrMalformedPredicate, path)
	}

	if _, leaf := obj["type"]; leaf {
		return decodeCondition(raw, path)
	}

	var comb Combinator
	matches := 0
	for _, c := range []Combinator{CombinatorAll, CombinatorAny, CombinatorNot} {
		if _, ok := obj[string(c)]; ok {
			comb = c
			matches++
		}
	}
	if matches != 1 {
		return nil, fmt.Errorf("%w: %s: node needs a type or exactly one of all/any/not", ErrMalformedPredicate, path)
	}

	body := obj[string(comb)]
	list := isArray(body)
	var items []json.RawMessage
	if comb == CombinatorNot && !list {
		items = []json.RawMessage{body}
	} else if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: children must be an array", ErrMalformedPredicate, path, comb)
	}

	group := &Group{Combinator: comb, Children: make([]Node, 0, len(items))}
	for i, item := range items {
		childPath := path + "/" + string(comb)
		if list {
			childPath += "/" + strconv.Itoa(i)
		}
		child, err := decodeNode(item, childPath, depth+1)
		if err != nil {
			return nil, err
		}
		group.Children = append(group.Children, child)
	}
	return group, nil
}

func decodeCondition(raw json.RawMessage, path string) (*Condition, error) {
	var w wireCondition
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPredicate, path, err)
	}
	value, err := decodeValue(w.Value, Operator(w.Operator))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/value: %v", ErrMalformedPredicate, path, err)
	}
	nh, _ := ParseNullHandling(w.TreatNullAs)
	return &Condition{
		Kind:         ConditionKind(w.Type),
		Field:        w.Field,
		Operator:     Operator(w.Operator),
		Value:        value,
		NullHandling: nh,
	}, nil
}

func decodeValue(raw json.RawMessage, op Operator) (Value, error) {
	if isNull(raw) {
		return NoValue(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Value{}, err
	}

	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, err
		}
		return NumberValue(f), nil
	case bool:
		return BoolValue(x), nil
	case string:
		return StringValue(x), nil
	case []any:
		if op == OpBetween && len(x) == 2 {
			lo, okLo := x[0].(json.Number)
			hi, okHi := x[1].(json.Number)
			if okLo && okHi {
				return decodeRange(lo, hi)
			}
		}
		items := make([]string, 0, len(x))
		for _, item := range x {
			switch it := item.(type) {
			case string:
				items = append(items, it)
			case json.Number:
				f, err := it.Float64()
				if err != nil {
					return Value{}, fmt.Errorf("list item %s: %w", it, err)
				}
				items = append(items, strconv.FormatFloat(f, 'f', -1, 64))
			default:
				return Value{}, fmt.Errorf("list items must be strings or numbers, got %T", item)
			}
		}
		return Value{Shape: ShapeList, List: items}, nil
	case map[string]any:
		lo, okLo := x["min"].(json.Number)
		hi, okHi := x["max"].(json.Number)
		if okLo && okHi && len(x) == 2 {
			return decodeRange(lo, hi)
		}
		return Value{}, fmt.Errorf("object values must be {\"min\": n, \"max\": n}")
	}
	return Value{}, fmt.Errorf("unsupported value %T", v)
}

func decodeRange(lo, hi json.Number) (Value, error) {
	l, err := lo.Float64()
	if err != nil {
		return Value{}, err
	}
	h, err := hi.Float64()
	if err != nil {
		return Value{}, err
	}
	return RangeValue(l, h), nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}
