// Package plan compiles a decoded request and its effective policy into a
// backend-neutral relational query plan: projection, join graph, predicate
// tree, ordering and pagination.
//
// Compilation performs no I/O and is all-or-nothing. The same request and
// policy always produce a structurally identical plan.
package plan

import (
	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

// Ref is a fully qualified column reference. Path is the join path, empty for
// the root table.
type Ref struct {
	Path   string
	Column string
}

// Predicate is a Compare, an And or an Or.
type Predicate interface {
	isPredicate()
}

// Compare tests one column. Value holds the coerced scalar or []any of
// scalars; string values of case-insensitive operators are lower-cased.
type Compare struct {
	Ref   Ref
	Op    condition.Operator
	Value any
	Kind  schema.Kind
}

type And struct {
	Preds []Predicate
}

type Or struct {
	Preds []Predicate
}

func (Compare) isPredicate() {}
func (And) isPredicate()     {}
func (Or) isPredicate()      {}

// Join is one edge of the join graph. Parent is the path of the joined-from
// relation, empty for the root.
type Join struct {
	Path       string
	Parent     string
	Name       string
	Relation   schema.Relation
	Table      schema.Table
	Columns    []string
	PrimaryKey []string
	Many       bool
	Required   bool
}

type Order struct {
	Ref  Ref
	Desc bool
}

// Plan is the compiled query. Joins are ordered parents first.
type Plan struct {
	Table      schema.Table
	RootAlias  string
	Columns    []string
	PrimaryKey []string
	Joins      []Join
	Where      Predicate
	Order      []Order
	Limit      *int
	Offset     *int
	Page       *int
	Cache      bool
	// Paginate selects the paginated response envelope.
	Paginate bool
}

// Join returns the join with the given path.
func (p *Plan) Join(path string) (Join, bool) {
	for _, j := range p.Joins {
		if j.Path == path {
			return j, true
		}
	}
	return Join{}, false
}

// HasManyJoin reports whether any join yields more than one row per parent.
func (p *Plan) HasManyJoin() bool {
	for _, j := range p.Joins {
		if j.Many {
			return true
		}
	}
	return false
}

// PagesInMemory reports whether limit and offset must be applied after rows
// are regrouped, because row-level paging would cut to-many children.
func (p *Plan) PagesInMemory() bool {
	return p.HasManyJoin() && (p.Limit != nil || p.Offset != nil)
}

// Children returns the joins whose parent is path, in plan order.
func (p *Plan) Children(path string) []Join {
	var out []Join
	for _, j := range p.Joins {
		if j.Parent == path {
			out = append(out, j)
		}
	}
	return out
}

// Unpaged returns a copy without limit, offset and ordering, as used for
// counting.
func (p *Plan) Unpaged() *Plan {
	c := *p
	c.Limit, c.Offset, c.Page, c.Order = nil, nil, nil, nil
	return &c
}
