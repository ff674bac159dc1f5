// Package request implements the query-string codec: it decodes the flat
// filter/or/join/sort/s/limit/offset/page/cache/fields parameters into a
// Parsed value and encodes a Parsed value back with Builder.
//
//	GET /projects?filter=name||ends||foo&or=isActive||eq||true&join=company||name&sort=id,DESC&limit=10
package request

import (
	"github.com/edgeflare/pgcrud/pkg/condition"
)

// Query-string parameter names.
const (
	ParamFields  = "fields"
	ParamSelect  = "select"
	ParamSearch  = "s"
	ParamFilter  = "filter"
	ParamOr      = "or"
	ParamJoin    = "join"
	ParamSort    = "sort"
	ParamLimit   = "limit"
	ParamPerPage = "per_page"
	ParamOffset  = "offset"
	ParamPage    = "page"
	ParamCache   = "cache"
)

const (
	// Delim separates the parts of a filter triple and of a join entry.
	Delim = "||"
	// DelimList separates array values, selected fields and sort parts.
	DelimList = ","
)

// SortOrder is ASC or DESC.
type SortOrder string

const (
	Asc  SortOrder = "ASC"
	Desc SortOrder = "DESC"
)

// Sort orders results by a possibly dotted field.
type Sort struct {
	Field string
	Order SortOrder
}

// Join requests a relation, optionally narrowing its selected columns.
type Join struct {
	Field  string
	Select []string
}

// Parsed is the decoded request. Nil pointers and slices mean the parameter
// was absent.
type Parsed struct {
	Fields []string
	Search condition.Node
	Filter []condition.Leaf
	Or     []condition.Leaf
	Join   []Join
	Sort   []Sort
	Limit  *int
	Offset *int
	Page   *int
	Cache  *int
}

// FlatCondition combines the flat filter and or entries: filters are AND-ed,
// or entries are AND-ed among themselves and the two groups are OR-ed. A
// lone or list is OR-ed. It returns nil when neither is present.
func (p *Parsed) FlatCondition() condition.Node {
	filters := condition.LeafNodes(p.Filter)
	ors := condition.LeafNodes(p.Or)

	switch {
	case len(filters) > 0 && len(ors) > 0:
		return condition.AnyOf(condition.AllOf(filters...), condition.AllOf(ors...))
	case len(ors) > 0:
		return condition.AnyOf(ors...)
	default:
		return condition.AllOf(filters...)
	}
}

// WantsCache reports whether the request allows cached results. Only an
// explicit cache=0 opts out.
func (p *Parsed) WantsCache() bool {
	return p.Cache == nil || *p.Cache != 0
}

func intPtr(n int) *int { return &n }
