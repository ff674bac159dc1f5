package plan

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/policy"
	"github.com/edgeflare/pgcrud/pkg/request"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

type compiler struct {
	tables schema.Tables
	eff    *policy.Effective
	root   schema.Table
	joins  []Join
	byPath map[string]int
	alias  map[string]string
}

// Compile validates p against the model and eff and emits a plan.
func Compile(tables schema.Tables, eff *policy.Effective, p *request.Parsed) (*Plan, error) {
	c := &compiler{
		tables: tables,
		eff:    eff,
		root:   eff.Table,
		byPath: make(map[string]int),
	}

	if err := c.resolveJoins(p); err != nil {
		return nil, err
	}
	c.buildAliases()

	mandatory, err := c.predicate(eff.Mandatory(), true)
	if err != nil {
		return nil, err
	}
	requested, err := c.predicate(requestCondition(p), false)
	if err != nil {
		return nil, err
	}

	order, err := c.order(p.Sort)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Table:      c.root,
		RootAlias:  c.rootAlias(),
		Columns:    c.projection(p.Fields),
		PrimaryKey: slices.Clone(c.root.PrimaryKeys),
		Joins:      c.joins,
		Where:      allOf(mandatory, requested),
		Order:      order,
		Limit:      eff.Limit,
		Offset:     eff.Offset,
		Page:       eff.Page,
		Cache:      eff.Cache,
		Paginate:   eff.Paginated(),
	}, nil
}

// requestCondition combines the search tree with the flat filter/or group.
// Both are kept: search does not replace the flat conditions.
func requestCondition(p *request.Parsed) condition.Node {
	return condition.AllOf(p.Search, p.FlatCondition())
}

func (c *compiler) rootAlias() string {
	alias := c.root.Name
	for {
		if _, clash := c.byPath[alias]; !clash {
			return alias
		}
		alias = "_" + alias
	}
}

// resolveJoins walks the requested joins, then eager joins and joins needed
// by mandatory conditions. Paths naming a relation missing from the model are
// dropped; existing relations must be declared.
func (c *compiler) resolveJoins(p *request.Parsed) error {
	selects := make(map[string][]string)
	var paths []string
	for _, j := range p.Join {
		if _, seen := selects[j.Field]; !seen {
			paths = append(paths, j.Field)
		}
		selects[j.Field] = j.Select
	}

	declared := make([]string, 0, len(c.eff.Joins))
	for path := range c.eff.Joins {
		declared = append(declared, path)
	}
	slices.Sort(declared)
	for _, path := range declared {
		if c.eff.Joins[path].Eager && !slices.Contains(paths, path) {
			paths = append(paths, path)
		}
	}

	for _, leaf := range condition.Leaves(c.eff.Mandatory()) {
		prefix, _, dotted := cutLast(leaf.Field)
		if !dotted || slices.Contains(paths, prefix) {
			continue
		}
		if _, ok := c.eff.Joins[prefix]; ok {
			paths = append(paths, prefix)
		}
	}

	for _, path := range paths {
		if err := c.addJoin(path, selects); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) addJoin(path string, selects map[string][]string) error {
	if _, done := c.byPath[path]; done {
		return nil
	}

	segments := strings.Split(path, ".")
	rels := make([]schema.Relation, len(segments))
	targets := make([]schema.Table, len(segments))
	current := c.root
	for i, seg := range segments {
		rel, ok := current.Relation(seg)
		if !ok {
			return nil
		}
		target, ok := c.tables.Lookup(rel.Target)
		if !ok {
			return nil
		}
		rels[i], targets[i] = rel, target
		current = target
	}

	for i := range segments {
		sub := strings.Join(segments[:i+1], ".")
		if _, done := c.byPath[sub]; done {
			continue
		}
		opts, declared := c.eff.Joins[sub]
		if !declared {
			return fault.New(fault.JoinNotAllowed, "join %q is not declared", sub).WithField(sub)
		}

		parent := ""
		if i > 0 {
			parent = strings.Join(segments[:i], ".")
		}
		c.byPath[sub] = len(c.joins)
		c.joins = append(c.joins, Join{
			Path:       sub,
			Parent:     parent,
			Name:       segments[i],
			Relation:   rels[i],
			Table:      targets[i],
			Columns:    joinColumns(targets[i], opts, selects[sub]),
			PrimaryKey: slices.Clone(targets[i].PrimaryKeys),
			Many:       rels[i].Many,
			Required:   opts.Required,
		})
	}
	return nil
}

// joinColumns returns the selectable columns of a joined table in column
// order. Primary keys are always included; a select list narrows the rest
// and silently drops fields that are unknown or not allowed.
func joinColumns(t schema.Table, opts policy.JoinOptions, sel []string) []string {
	var cols []string
	for _, col := range t.Columns {
		if slices.Contains(t.PrimaryKeys, col.Name) {
			cols = append(cols, col.Name)
			continue
		}
		if !joinFieldAllowed(opts, col.Name) {
			continue
		}
		if len(sel) > 0 && !slices.Contains(sel, col.Name) {
			continue
		}
		cols = append(cols, col.Name)
	}
	return cols
}

func joinFieldAllowed(opts policy.JoinOptions, field string) bool {
	if len(opts.Allow) > 0 && !slices.Contains(opts.Allow, field) {
		return false
	}
	return !slices.Contains(opts.Exclude, field)
}

// buildAliases maps every addressable name to a join path: the path itself,
// its declared alias, and its last segment when no other join claims it.
func (c *compiler) buildAliases() {
	c.alias = make(map[string]string, len(c.joins))
	for _, j := range c.joins {
		c.alias[j.Path] = j.Path
	}

	claims := make(map[string][]string)
	for _, j := range c.joins {
		if a := c.eff.Joins[j.Path].Alias; a != "" {
			claims[a] = append(claims[a], j.Path)
		}
		if j.Name != j.Path {
			claims[j.Name] = append(claims[j.Name], j.Path)
		}
	}
	for name, paths := range claims {
		if _, taken := c.alias[name]; taken {
			continue
		}
		paths = slices.Compact(paths)
		if len(paths) == 1 {
			c.alias[name] = paths[0]
		}
	}
}

// resolveField resolves a possibly dotted field. Trusted fields come from
// the endpoint declaration and skip the allow checks.
func (c *compiler) resolveField(field string, trusted bool) (Ref, schema.Column, error) {
	prefix, name, dotted := cutLast(field)
	if !dotted {
		col, ok := c.root.Column(field)
		if !ok {
			if trusted {
				return Ref{}, schema.Column{}, fault.New(fault.InvalidField, "unknown field").WithField(field)
			}
			return Ref{}, schema.Column{}, fault.New(fault.FieldNotAllowed, "field is not allowed").WithField(field)
		}
		if !trusted && !c.eff.Allowed(field) {
			return Ref{}, schema.Column{}, fault.New(fault.FieldNotAllowed, "field is not allowed").WithField(field)
		}
		return Ref{Column: field}, col, nil
	}

	path, ok := c.alias[prefix]
	if !ok {
		return Ref{}, schema.Column{}, fault.New(fault.FieldNotAllowed, "%q is not a joined relation", prefix).WithField(field)
	}
	j := c.joins[c.byPath[path]]
	col, ok := j.Table.Column(name)
	if !ok {
		return Ref{}, schema.Column{}, fault.New(fault.InvalidField, "relation %q has no field %q", path, name).WithField(field)
	}
	if !trusted && !slices.Contains(j.PrimaryKey, name) && !joinFieldAllowed(c.eff.Joins[path], name) {
		return Ref{}, schema.Column{}, fault.New(fault.FieldNotAllowed, "field is not allowed").WithField(field)
	}
	return Ref{Path: path, Column: name}, col, nil
}

func (c *compiler) predicate(n condition.Node, trusted bool) (Predicate, error) {
	if n == nil {
		return nil, nil
	}
	return condition.Fold(n, condition.Folder[Predicate]{
		Leaf: func(l condition.Leaf) (Predicate, error) {
			if err := l.Validate(); err != nil {
				return nil, err
			}
			ref, col, err := c.resolveField(l.Field, trusted)
			if err != nil {
				return nil, err
			}
			value, err := coerceValue(l, col.Kind)
			if err != nil {
				return nil, err
			}
			return Compare{Ref: ref, Op: l.Operator, Value: value, Kind: col.Kind}, nil
		},
		And: func(preds []Predicate) (Predicate, error) { return And{Preds: preds}, nil },
		Or:  func(preds []Predicate) (Predicate, error) { return Or{Preds: preds}, nil },
	})
}

func allOf(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Preds: kept}
	}
}

// order resolves the requested sort, falling back to the default sort and
// then to the root primary key ascending.
func (c *compiler) order(sorts []request.Sort) ([]Order, error) {
	trusted := false
	if len(sorts) == 0 {
		sorts, trusted = c.eff.DefaultSort, true
	}

	var out []Order
	for _, s := range sorts {
		ref, _, err := c.resolveField(s.Field, trusted)
		if err != nil {
			return nil, err
		}
		out = append(out, Order{Ref: ref, Desc: s.Order == request.Desc})
	}
	if len(out) == 0 {
		for _, pk := range c.root.PrimaryKeys {
			out = append(out, Order{Ref: Ref{Column: pk}})
		}
	}
	return out, nil
}

// projection returns the allowed root fields narrowed by the requested
// fields, plus the primary key, in column order.
func (c *compiler) projection(fields []string) []string {
	var cols []string
	for _, col := range c.root.Columns {
		switch {
		case slices.Contains(c.root.PrimaryKeys, col.Name):
		case !c.eff.Allowed(col.Name):
			continue
		case len(fields) > 0 && !slices.Contains(fields, col.Name):
			continue
		}
		cols = append(cols, col.Name)
	}
	return cols
}

func cutLast(field string) (prefix, name string, dotted bool) {
	i := strings.LastIndexByte(field, '.')
	if i < 0 {
		return "", field, false
	}
	return field[:i], field[i+1:], true
}

// coerceValue converts condition values to the column kind. Pattern
// operators always compare strings.
func coerceValue(l condition.Leaf, kind schema.Kind) (any, error) {
	if l.Value == nil {
		return nil, nil
	}

	switch l.Operator.Base() {
	case condition.Cont, condition.Excl, condition.Starts, condition.Ends:
		kind = schema.KindString
	}

	convert := func(v any) (any, error) {
		out, ok := coerceScalar(condition.Normalize(v), kind)
		if !ok {
			return nil, fault.New(fault.MalformedCondition, "value %v does not match the %s field", v, kind).
				WithField(l.Field).WithOperator(string(l.Operator))
		}
		if s, isString := out.(string); isString && l.Operator.CaseInsensitive() {
			out = strings.ToLower(s)
		}
		return out, nil
	}

	if values, ok := condition.Normalize(l.Value).([]any); ok {
		out := make([]any, len(values))
		for i, v := range values {
			cv, err := convert(v)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	}
	return convert(l.Value)
}

func coerceScalar(v any, kind schema.Kind) (any, bool) {
	switch kind {
	case schema.KindString:
		return condition.FormatValue(v), true
	case schema.KindInt:
		switch v := v.(type) {
		case int64:
			return v, true
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < 1<<63 {
				return int64(v), true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
		return nil, false
	case schema.KindFloat:
		switch v := v.(type) {
		case float64:
			return v, true
		case int64:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
		return nil, false
	case schema.KindBool:
		switch v := v.(type) {
		case bool:
			return v, true
		case int64:
			if v == 0 || v == 1 {
				return v == 1, true
			}
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, true
			}
		}
		return nil, false
	case schema.KindTime:
		if _, ok := v.(bool); ok {
			return nil, false
		}
		if n, ok := v.(int64); ok {
			return n, true
		}
		return condition.FormatValue(v), true
	default:
		return v, true
	}
}
