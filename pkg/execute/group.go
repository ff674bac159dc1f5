package execute

import (
	"fmt"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/plan"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

type entity struct {
	obj  map[string]any
	one  map[string]*entity
	many map[string]*group
}

type group struct {
	order []*entity
	index map[string]*entity
}

func newGroup() *group {
	return &group{index: make(map[string]*entity)}
}

type field struct {
	name  string
	index int
	kind  schema.Kind
}

// assemble regroups joined rows into one entity per root primary key, in
// order of first appearance. To-one relations become an object or nil,
// to-many relations an array without duplicates.
func assemble(pl *plan.Plan, cols []plan.Ref, rows [][]any) []map[string]any {
	fields := make(map[string][]field)
	for i, ref := range cols {
		fields[ref.Path] = append(fields[ref.Path], field{name: ref.Column, index: i, kind: columnKind(pl, ref)})
	}

	roots := newGroup()
	for n, row := range rows {
		seen := make(map[string]*entity, len(pl.Joins)+1)

		key, ok := rowKey(row, fields[""], pl.PrimaryKey)
		if !ok {
			key = fmt.Sprintf("row %d", n)
		}
		seen[""] = roots.get(pl, "", key, row, fields[""])

		for _, j := range pl.Joins {
			parent := seen[j.Parent]
			if parent == nil {
				continue
			}
			key, ok := rowKey(row, fields[j.Path], j.PrimaryKey)
			if !ok {
				continue
			}
			if j.Many {
				seen[j.Path] = parent.many[j.Name].get(pl, j.Path, key, row, fields[j.Path])
				continue
			}
			child := parent.one[j.Name]
			if child == nil {
				child = newEntity(pl, j.Path, row, fields[j.Path])
				parent.one[j.Name] = child
			}
			seen[j.Path] = child
		}
	}

	out := make([]map[string]any, len(roots.order))
	for i, e := range roots.order {
		out[i] = e.materialize()
	}
	return out
}

func (g *group) get(pl *plan.Plan, path, key string, row []any, fields []field) *entity {
	if e, ok := g.index[key]; ok {
		return e
	}
	e := newEntity(pl, path, row, fields)
	g.index[key] = e
	g.order = append(g.order, e)
	return e
}

func newEntity(pl *plan.Plan, path string, row []any, fields []field) *entity {
	e := &entity{
		obj:  make(map[string]any, len(fields)),
		one:  make(map[string]*entity),
		many: make(map[string]*group),
	}
	for _, f := range fields {
		e.obj[f.name] = normalize(row[f.index], f.kind)
	}
	for _, j := range pl.Children(path) {
		if j.Many {
			e.many[j.Name] = newGroup()
		} else {
			e.one[j.Name] = nil
		}
	}
	return e
}

func (e *entity) materialize() map[string]any {
	for name, child := range e.one {
		if child == nil {
			e.obj[name] = nil
			continue
		}
		e.obj[name] = child.materialize()
	}
	for name, g := range e.many {
		list := make([]map[string]any, len(g.order))
		for i, child := range g.order {
			list[i] = child.materialize()
		}
		e.obj[name] = list
	}
	return e.obj
}

// rowKey joins the primary key values of one entity in a row. ok is false
// when all of them are NULL, which is how an unmatched LEFT JOIN shows up.
func rowKey(row []any, fields []field, pk []string) (string, bool) {
	parts := make([]string, 0, len(pk))
	present := false
	for _, k := range pk {
		for _, f := range fields {
			if f.name != k {
				continue
			}
			v := row[f.index]
			if v != nil {
				present = true
			}
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, "\x00"), present
}

func columnKind(pl *plan.Plan, ref plan.Ref) schema.Kind {
	t := pl.Table
	if ref.Path != "" {
		j, ok := pl.Join(ref.Path)
		if !ok {
			return schema.KindOther
		}
		t = j.Table
	}
	if c, ok := t.Column(ref.Column); ok {
		return c.Kind
	}
	return schema.KindOther
}

// normalize maps backend representations onto the column kind: SQLite and
// MySQL report booleans as integers.
func normalize(v any, kind schema.Kind) any {
	if kind != schema.KindBool {
		return v
	}
	switch b := v.(type) {
	case int64:
		return b != 0
	case int32:
		return b != 0
	case int:
		return b != 0
	case uint8:
		return b != 0
	default:
		return v
	}
}
