// Package condition defines the comparison operator vocabulary and the
// recursive boolean condition tree used by filters, OR groups and search.
//
// A tree is built from three node kinds:
//
//	Leaf{Field: "company.name", Operator: condition.Eq, Value: "acme"}
//	And{Nodes: []Node{...}}
//	Or{Nodes: []Node{...}}
//
// Values are scalars (bool, int64, float64, string) or, for array operators,
// []any of scalars. Fold walks a tree bottom-up and is shared by validation
// and predicate compilation.
package condition

import (
	"github.com/edgeflare/pgcrud/pkg/fault"
)

// Node is a Leaf, an And or an Or.
type Node interface {
	isNode()
}

// Leaf is a single field/operator/value comparison. Field may be dotted to
// reference an attribute of a joined relation.
type Leaf struct {
	Field    string
	Operator Operator
	Value    any
}

// And is satisfied when every child is.
type And struct {
	Nodes []Node
}

// Or is satisfied when any child is.
type Or struct {
	Nodes []Node
}

func (Leaf) isNode() {}
func (And) isNode()  {}
func (Or) isNode()   {}

// Folder holds one callback per node kind. And and Or receive the already
// folded children in order.
type Folder[T any] struct {
	Leaf func(Leaf) (T, error)
	And  func([]T) (T, error)
	Or   func([]T) (T, error)
}

// Fold reduces n bottom-up with f. The first error aborts the walk.
func Fold[T any](n Node, f Folder[T]) (T, error) {
	var zero T
	switch n := n.(type) {
	case Leaf:
		return f.Leaf(n)
	case And:
		children, err := foldAll(n.Nodes, f)
		if err != nil {
			return zero, err
		}
		return f.And(children)
	case Or:
		children, err := foldAll(n.Nodes, f)
		if err != nil {
			return zero, err
		}
		return f.Or(children)
	default:
		return zero, fault.New(fault.MalformedCondition, "unknown condition node %T", n)
	}
}

func foldAll[T any](nodes []Node, f Folder[T]) ([]T, error) {
	out := make([]T, 0, len(nodes))
	for _, child := range nodes {
		v, err := Fold(child, f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Validate checks every leaf of n for a known operator and a value matching
// its arity, and rejects empty and/or groups.
func Validate(n Node) error {
	_, err := Fold(n, Folder[struct{}]{
		Leaf: func(l Leaf) (struct{}, error) {
			return struct{}{}, l.Validate()
		},
		And: func(children []struct{}) (struct{}, error) {
			if len(children) == 0 {
				return struct{}{}, fault.New(fault.MalformedCondition, "and group must not be empty")
			}
			return struct{}{}, nil
		},
		Or: func(children []struct{}) (struct{}, error) {
			if len(children) == 0 {
				return struct{}{}, fault.New(fault.MalformedCondition, "or group must not be empty")
			}
			return struct{}{}, nil
		},
	})
	return err
}

// Validate checks the operator and the value arity of l.
func (l Leaf) Validate() error {
	if l.Field == "" {
		return fault.New(fault.MalformedCondition, "condition field must not be empty").
			WithOperator(string(l.Operator))
	}
	if !l.Operator.Valid() {
		return fault.New(fault.MalformedCondition, "unknown operator").
			WithField(l.Field).WithOperator(string(l.Operator))
	}

	arity := l.Operator.Arity()
	values, isArray := l.Value.([]any)
	ok := true
	switch arity {
	case Scalar:
		ok = l.Value != nil && !isArray && isScalar(l.Value)
	case List:
		ok = isArray && len(values) >= 1 && allScalar(values)
	case Pair:
		ok = isArray && len(values) == 2 && allScalar(values)
	case Nullary:
		ok = l.Value == nil
	}
	if !ok {
		return fault.New(fault.MalformedCondition, "operator expects %s", arity).
			WithField(l.Field).WithOperator(string(l.Operator))
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func allScalar(values []any) bool {
	for _, v := range values {
		if v == nil || !isScalar(v) {
			return false
		}
	}
	return true
}

// Leaves returns the leaves of n in depth-first order.
func Leaves(n Node) []Leaf {
	if n == nil {
		return nil
	}
	concat := func(children [][]Leaf) ([]Leaf, error) {
		var out []Leaf
		for _, c := range children {
			out = append(out, c...)
		}
		return out, nil
	}
	leaves, _ := Fold(n, Folder[[]Leaf]{
		Leaf: func(l Leaf) ([]Leaf, error) { return []Leaf{l}, nil },
		And:  concat,
		Or:   concat,
	})
	return leaves
}

// AllOf joins the non-nil nodes with AND. It returns nil for no nodes and the
// node itself for one; nested groups are kept as given.
func AllOf(nodes ...Node) Node {
	kept := compact(nodes)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Nodes: kept}
	}
}

// AnyOf joins the non-nil nodes with OR, with the same shortcuts as AllOf.
func AnyOf(nodes ...Node) Node {
	kept := compact(nodes)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return Or{Nodes: kept}
	}
}

func compact(nodes []Node) []Node {
	kept := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return kept
}

// LeafNodes converts leaves to nodes.
func LeafNodes(leaves []Leaf) []Node {
	nodes := make([]Node, len(leaves))
	for i, l := range leaves {
		nodes[i] = l
	}
	return nodes
}
