package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/fault"
)

// ParseSearch decodes the JSON search tree carried by the "s" parameter.
//
// Accepted shapes:
//
//	{"field": "name", "operator": "eq", "value": "Project1"}   leaf ("op" also works)
//	{"and": [...]} / {"or": [...]}                           groups ("$and"/"$or" too)
//	[...]                                                    implicit and
//	{"id": 1, "name": {"$in": ["a", "b"]}}                   field map
//
// An empty object means no search.
func ParseSearch(raw string) (condition.Node, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fault.New(fault.MalformedSearch, "search must be valid JSON").WithOriginal(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fault.New(fault.MalformedSearch, "unexpected data after search JSON")
	}

	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}

	node, err := searchNode(v)
	if err != nil {
		return nil, asSearchError(err)
	}
	if err := condition.Validate(node); err != nil {
		return nil, asSearchError(err)
	}
	return node, nil
}

// asSearchError reclassifies condition errors found inside a search tree.
func asSearchError(err error) error {
	var f *fault.Error
	if errors.As(err, &f) && f.Kind == fault.MalformedCondition {
		c := *f
		c.Kind = fault.MalformedSearch
		return &c
	}
	return err
}

func searchNode(v any) (condition.Node, error) {
	switch v := v.(type) {
	case []any:
		return searchGroup(v, false)
	case map[string]any:
		return searchObject(v)
	default:
		return nil, fault.New(fault.MalformedSearch, "search node must be an object or an array")
	}
}

func searchGroup(items []any, or bool) (condition.Node, error) {
	if len(items) == 0 {
		return nil, fault.New(fault.MalformedSearch, "search group must not be empty")
	}
	nodes := make([]condition.Node, 0, len(items))
	for _, item := range items {
		n, err := searchNode(item)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, fault.New(fault.MalformedSearch, "search group must not contain empty objects")
		}
		nodes = append(nodes, n)
	}
	if or {
		return condition.Or{Nodes: nodes}, nil
	}
	return condition.And{Nodes: nodes}, nil
}

func searchObject(m map[string]any) (condition.Node, error) {
	if isLeafObject(m) {
		return searchLeaf(m)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var parts []condition.Node
	for _, k := range keys {
		switch k {
		case "and", "$and", "or", "$or":
			items, ok := m[k].([]any)
			if !ok {
				return nil, fault.New(fault.MalformedSearch, "%q must be an array", k)
			}
			n, err := searchGroup(items, strings.TrimPrefix(k, "$") == "or")
			if err != nil {
				return nil, err
			}
			parts = append(parts, n)
		default:
			n, err := searchField(k, m[k])
			if err != nil {
				return nil, err
			}
			parts = append(parts, n)
		}
	}
	return condition.AllOf(parts...), nil
}

func isLeafObject(m map[string]any) bool {
	if _, ok := m["field"].(string); !ok {
		return false
	}
	_, hasOp := m["operator"]
	_, hasShort := m["op"]
	if !hasOp && !hasShort {
		return false
	}
	for k := range m {
		switch k {
		case "field", "operator", "op", "value":
		default:
			return false
		}
	}
	return true
}

func searchLeaf(m map[string]any) (condition.Node, error) {
	field := m["field"].(string)
	rawOp, ok := m["operator"].(string)
	if !ok {
		rawOp, ok = m["op"].(string)
	}
	if !ok {
		return nil, fault.New(fault.MalformedSearch, "operator must be a string").WithField(field)
	}
	op, ok := condition.ParseOperator(rawOp)
	if !ok {
		return nil, fault.New(fault.MalformedSearch, "unknown operator").WithField(field).WithOperator(rawOp)
	}

	leaf := condition.Leaf{Field: field, Operator: op}
	if op.Arity() != condition.Nullary {
		value, err := jsonValue(m["value"])
		if err != nil {
			return nil, err.(*fault.Error).WithField(field).WithOperator(rawOp)
		}
		leaf.Value = value
	}
	return leaf, nil
}

// searchField decodes one entry of the field-map form. A scalar means eq,
// null means isnull, an array means in, and an object maps operators to
// values; {"$or": {...}} inside an object ORs its operators.
func searchField(field string, v any) (condition.Node, error) {
	switch v := v.(type) {
	case nil:
		return condition.Leaf{Field: field, Operator: condition.IsNull}, nil
	case []any:
		values, err := jsonValue(v)
		if err != nil {
			return nil, err
		}
		return condition.Leaf{Field: field, Operator: condition.In, Value: values}, nil
	case map[string]any:
		return searchOperators(field, v, false)
	default:
		value, err := jsonValue(v)
		if err != nil {
			return nil, err
		}
		return condition.Leaf{Field: field, Operator: condition.Eq, Value: value}, nil
	}
}

func searchOperators(field string, m map[string]any, or bool) (condition.Node, error) {
	if len(m) == 0 {
		return nil, fault.New(fault.MalformedSearch, "operator map must not be empty").WithField(field)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	nodes := make([]condition.Node, 0, len(keys))
	for _, k := range keys {
		if k == "$or" || k == "or" {
			inner, ok := m[k].(map[string]any)
			if !ok {
				return nil, fault.New(fault.MalformedSearch, "%q must be an object", k).WithField(field)
			}
			n, err := searchOperators(field, inner, true)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
			continue
		}

		op, ok := condition.ParseOperator(k)
		if !ok {
			return nil, fault.New(fault.MalformedSearch, "unknown operator").WithField(field).WithOperator(k)
		}
		leaf := condition.Leaf{Field: field, Operator: op}
		if op.Arity() != condition.Nullary {
			value, err := jsonValue(m[k])
			if err != nil {
				return nil, err.(*fault.Error).WithField(field).WithOperator(k)
			}
			leaf.Value = value
		}
		nodes = append(nodes, leaf)
	}

	if or {
		return condition.AnyOf(nodes...), nil
	}
	return condition.AllOf(nodes...), nil
}

// jsonValue converts decoded JSON to condition values: numbers become int64
// or float64 and arrays []any of scalars.
func jsonValue(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, string:
		return v, nil
	case json.Number:
		return numberValue(v), nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			if _, nested := e.([]any); nested {
				return nil, fault.New(fault.MalformedSearch, "nested arrays are not supported")
			}
			c, err := jsonValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return nil, fault.New(fault.MalformedSearch, "condition value must be a scalar or an array")
	}
}

func numberValue(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	f, _ := n.Float64()
	return f
}

// MarshalSearch renders n in the canonical JSON form read by ParseSearch.
func MarshalSearch(n condition.Node) (string, error) {
	tree, err := searchJSON(n)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

type leafJSON struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

func searchJSON(n condition.Node) (any, error) {
	return condition.Fold(n, condition.Folder[any]{
		Leaf: func(l condition.Leaf) (any, error) {
			return leafJSON{Field: l.Field, Operator: string(l.Operator), Value: valueJSON(l.Value)}, nil
		},
		And: func(children []any) (any, error) {
			return map[string]any{"and": children}, nil
		},
		Or: func(children []any) (any, error) {
			return map[string]any{"or": children}, nil
		},
	})
}

// valueJSON keeps floats distinguishable from integers after a round trip.
func valueJSON(v any) any {
	switch v := condition.Normalize(v).(type) {
	case float64:
		return json.Number(condition.FormatValue(v))
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = valueJSON(e)
		}
		return out
	default:
		return v
	}
}
