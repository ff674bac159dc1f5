package policy

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/request"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

// Effective is the policy applying to one request.
type Effective struct {
	Table schema.Table
	// Fields are the root fields the request may reference and receive, in
	// column order.
	Fields []string
	Joins  map[string]JoinOptions

	Filter []condition.Node
	Or     []condition.Node
	Search condition.Node

	// DefaultSort applies when the request has no sort.
	DefaultSort []request.Sort
	Limit       *int
	Offset      *int
	Page        *int

	Cache          bool
	AlwaysPaginate bool
	Persist        map[string]any
}

// Resolve merges the endpoint declaration, the grants of its authorization
// callbacks and the pagination of p. Callbacks run once, in order.
func Resolve(ctx context.Context, ep *Endpoint, table schema.Table, p *request.Parsed) (*Effective, error) {
	opts := ep.Query
	eff := &Effective{
		Table:          table,
		Joins:          opts.Join,
		Filter:         slices.Clone(opts.Filter),
		Or:             slices.Clone(opts.Or),
		Search:         opts.Search,
		AlwaysPaginate: opts.AlwaysPaginate,
		Cache:          opts.Cache > 0 && p.WantsCache(),
	}

	var scopes [][]string
	for _, auth := range ep.Auth {
		grant, ok, err := auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		if !ok {
			continue
		}
		eff.Filter = append(eff.Filter, grant.Filter...)
		eff.Or = append(eff.Or, grant.Or...)
		if grant.Scope != nil {
			scopes = append(scopes, grant.Scope)
		}
		if len(grant.Persist) > 0 {
			if eff.Persist == nil {
				eff.Persist = make(map[string]any, len(grant.Persist))
			}
			maps.Copy(eff.Persist, grant.Persist)
		}
	}

	eff.Fields = allowedFields(table, opts.Allow, opts.Exclude, scopes)

	eff.DefaultSort = opts.Sort
	eff.Limit = EffectiveLimit(p.Limit, opts.Limit, opts.MaxLimit)
	var err error
	eff.Page, eff.Offset, err = pagination(p, eff.Limit)
	if err != nil {
		return nil, err
	}
	return eff, nil
}

// Allowed reports whether a root field may be referenced.
func (e *Effective) Allowed(field string) bool {
	return slices.Contains(e.Fields, field)
}

// Mandatory returns the AND of the endpoint and grant filters, the OR group
// and the mandatory search, or nil when there are none.
func (e *Effective) Mandatory() condition.Node {
	parts := slices.Clone(e.Filter)
	parts = append(parts, condition.AnyOf(e.Or...), e.Search)
	return condition.AllOf(parts...)
}

// Paginated reports whether responses use the pagination envelope.
func (e *Effective) Paginated() bool {
	return e.AlwaysPaginate || (e.Limit != nil && (e.Page != nil || e.Offset != nil))
}

// EffectiveLimit applies the limit rules: a requested limit is clamped to
// maxLimit; without one the default limit applies, also clamped; maxLimit
// alone still bounds the result. Zero values mean unset.
func EffectiveLimit(requested *int, defaultLimit, maxLimit int) *int {
	var limit int
	switch {
	case requested != nil && *requested > 0:
		limit = *requested
	case defaultLimit > 0:
		limit = defaultLimit
	case maxLimit > 0:
		limit = maxLimit
	default:
		return nil
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return &limit
}

// pagination derives the offset from page when a limit is known; page then
// wins over an explicit offset. A page whose offset overflows int is
// MalformedParam.
func pagination(p *request.Parsed, limit *int) (page, offset *int, err error) {
	if p.Page != nil && limit != nil && *limit > 0 {
		pg := *p.Page
		if pg-1 > math.MaxInt / *limit {
			return nil, nil, fault.New(fault.MalformedParam, "page %d is out of range for limit %d", pg, *limit)
		}
		off := (pg - 1) * *limit
		return &pg, &off, nil
	}
	if p.Offset != nil {
		off := *p.Offset
		return nil, &off, nil
	}
	return nil, nil, nil
}

func allowedFields(table schema.Table, allow, exclude []string, scopes [][]string) []string {
	var fields []string
	for _, c := range table.Columns {
		if len(allow) > 0 && !slices.Contains(allow, c.Name) {
			continue
		}
		if slices.Contains(exclude, c.Name) {
			continue
		}
		inScope := true
		for _, s := range scopes {
			if !slices.Contains(s, c.Name) {
				inScope = false
				break
			}
		}
		if inScope {
			fields = append(fields, c.Name)
		}
	}
	return fields
}
