package sqlbuild

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/plan"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

// Query is rendered SQL with its bind arguments. Columns maps the result
// columns of a SELECT to plan references, in order.
type Query struct {
	SQL     string
	Args    []any
	Columns []plan.Ref
}

type writer struct {
	d    *Dialect
	sb   strings.Builder
	args []any
	root string
}

func (w *writer) bind(v any) string {
	w.args = append(w.args, v)
	return w.d.Placeholder(len(w.args))
}

func (w *writer) column(ref plan.Ref) string {
	alias := ref.Path
	if alias == "" {
		alias = w.root
	}
	return w.d.Quote(alias, ref.Column)
}

func tableName(d *Dialect, t schema.Table) string {
	return d.Quote(t.Schema, t.Name)
}

// Select renders the plan as one SELECT with a LEFT (or INNER, for required
// joins) JOIN per relation. Result columns are labelled with their join path.
// LIMIT and OFFSET are left out when the plan pages in memory.
func (d *Dialect) Select(p *plan.Plan) (Query, error) {
	w := &writer{d: d, root: p.RootAlias}
	var refs []plan.Ref
	var cols []string

	for _, c := range p.Columns {
		ref := plan.Ref{Column: c}
		refs = append(refs, ref)
		cols = append(cols, w.column(ref)+" AS "+d.Quote(c))
	}
	for _, j := range p.Joins {
		for _, c := range j.Columns {
			ref := plan.Ref{Path: j.Path, Column: c}
			refs = append(refs, ref)
			cols = append(cols, w.column(ref)+" AS "+d.Quote(j.Path+"."+c))
		}
	}

	w.sb.WriteString("SELECT ")
	w.sb.WriteString(strings.Join(cols, ", "))
	if err := w.from(p); err != nil {
		return Query{}, err
	}

	order := orderWithKey(p)
	if len(order) > 0 {
		parts := make([]string, len(order))
		for i, o := range order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = w.column(o.Ref) + " " + dir
		}
		w.sb.WriteString(" ORDER BY ")
		w.sb.WriteString(strings.Join(parts, ", "))
	}

	if !p.PagesInMemory() {
		w.limit(p.Limit, p.Offset)
	}

	return Query{SQL: w.sb.String(), Args: w.args, Columns: refs}, nil
}

// Count renders a query returning the number of distinct root rows matching
// the plan's predicate.
func (d *Dialect) Count(p *plan.Plan) (Query, error) {
	w := &writer{d: d, root: p.RootAlias}

	keys := make([]string, len(p.PrimaryKey))
	for i, k := range p.PrimaryKey {
		keys[i] = w.column(plan.Ref{Column: k})
	}

	switch {
	case len(keys) == 1:
		w.sb.WriteString("SELECT COUNT(DISTINCT " + keys[0] + ")")
	case !p.HasManyJoin():
		w.sb.WriteString("SELECT COUNT(*)")
	default:
		w.sb.WriteString("SELECT COUNT(*) FROM (SELECT DISTINCT " + strings.Join(keys, ", "))
	}
	if err := w.from(p); err != nil {
		return Query{}, err
	}
	if len(keys) > 1 && p.HasManyJoin() {
		w.sb.WriteString(") AS " + d.Quote("t"))
	}
	return Query{SQL: w.sb.String(), Args: w.args}, nil
}

func (w *writer) from(p *plan.Plan) error {
	d := w.d
	w.sb.WriteString(" FROM " + tableName(d, p.Table) + " AS " + d.Quote(p.RootAlias))

	for _, j := range p.Joins {
		kind := "LEFT JOIN"
		if j.Required {
			kind = "INNER JOIN"
		}
		parent := j.Parent
		if parent == "" {
			parent = p.RootAlias
		}
		fmt.Fprintf(&w.sb, " %s %s AS %s ON %s = %s",
			kind,
			tableName(d, j.Table),
			d.Quote(j.Path),
			d.Quote(j.Path, j.Relation.TargetColumn),
			d.Quote(parent, j.Relation.LocalColumn),
		)
	}

	if p.Where != nil {
		cond, err := w.predicate(p.Where, true)
		if err != nil {
			return err
		}
		w.sb.WriteString(" WHERE " + cond)
	}
	return nil
}

func (w *writer) limit(limit, offset *int) {
	switch {
	case limit != nil:
		w.sb.WriteString(" LIMIT " + strconv.Itoa(*limit))
	case offset != nil && w.d.noLimit != "":
		w.sb.WriteString(" LIMIT " + w.d.noLimit)
	}
	if offset != nil {
		w.sb.WriteString(" OFFSET " + strconv.Itoa(*offset))
	}
}

// orderWithKey appends the root primary key to the plan order so that rows
// of one root entity stay adjacent and paging is stable.
func orderWithKey(p *plan.Plan) []plan.Order {
	order := slices.Clone(p.Order)
	for _, k := range p.PrimaryKey {
		ref := plan.Ref{Column: k}
		if !slices.ContainsFunc(order, func(o plan.Order) bool { return o.Ref == ref }) {
			order = append(order, plan.Order{Ref: ref})
		}
	}
	return order
}

func (w *writer) predicate(p plan.Predicate, top bool) (string, error) {
	switch p := p.(type) {
	case plan.Compare:
		return w.compare(p)
	case plan.And:
		return w.group(p.Preds, " AND ", top)
	case plan.Or:
		return w.group(p.Preds, " OR ", top)
	default:
		return "", fault.New(fault.MalformedCondition, "unknown predicate %T", p)
	}
}

func (w *writer) group(preds []plan.Predicate, sep string, top bool) (string, error) {
	parts := make([]string, len(preds))
	for i, child := range preds {
		s, err := w.predicate(child, false)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	out := strings.Join(parts, sep)
	if top || len(parts) == 1 {
		return out, nil
	}
	return "(" + out + ")", nil
}

func (w *writer) compare(c plan.Compare) (string, error) {
	col := w.column(c.Ref)
	fold := c.Op.CaseInsensitive()

	switch base := c.Op.Base(); base {
	case condition.Cont, condition.Excl, condition.Starts, condition.Ends:
		return w.pattern(col, c, base, fold), nil
	case condition.IsNull:
		return col + " IS NULL", nil
	case condition.NotNull:
		return col + " IS NOT NULL", nil
	}

	if fold && c.Kind == schema.KindString {
		col = "LOWER(" + col + ")"
	}

	switch c.Op.Base() {
	case condition.Eq:
		return col + " = " + w.bind(c.Value), nil
	case condition.Ne:
		return col + " <> " + w.bind(c.Value), nil
	case condition.Gt:
		return col + " > " + w.bind(c.Value), nil
	case condition.Gte:
		return col + " >= " + w.bind(c.Value), nil
	case condition.Lt:
		return col + " < " + w.bind(c.Value), nil
	case condition.Lte:
		return col + " <= " + w.bind(c.Value), nil
	case condition.In, condition.NotIn:
		values, _ := c.Value.([]any)
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = w.bind(v)
		}
		op := " IN ("
		if c.Op.Base() == condition.NotIn {
			op = " NOT IN ("
		}
		return col + op + strings.Join(marks, ", ") + ")", nil
	case condition.Between:
		values, _ := c.Value.([]any)
		if len(values) != 2 {
			return "", fault.New(fault.MalformedCondition, "between needs two values").
				WithField(c.Ref.Column).WithOperator(string(c.Op))
		}
		return col + " BETWEEN " + w.bind(values[0]) + " AND " + w.bind(values[1]), nil
	default:
		return "", fault.New(fault.MalformedCondition, "unsupported operator").
			WithField(c.Ref.Column).WithOperator(string(c.Op))
	}
}

func (w *writer) pattern(col string, c plan.Compare, base condition.Operator, fold bool) string {
	d := w.d
	if c.Kind != schema.KindString {
		col = d.text(col)
	}
	value := condition.FormatValue(c.Value)
	negate := base == condition.Excl

	if !fold && d.glob {
		g := escapeGlob(value)
		op := " GLOB "
		if negate {
			op = " NOT GLOB "
		}
		return col + op + w.bind(wrap(base, g, "*"))
	}

	like := " LIKE "
	switch {
	case fold && d.ilike:
		like = " ILIKE "
	case fold:
		col = "LOWER(" + col + ")"
	}
	if negate {
		like = " NOT" + like
	}
	return col + like + w.bind(wrap(base, d.escapeLike(value), "%")) + d.escapeClause()
}

func wrap(base condition.Operator, s, wild string) string {
	switch base {
	case condition.Starts:
		return s + wild
	case condition.Ends:
		return wild + s
	default:
		return wild + s + wild
	}
}
