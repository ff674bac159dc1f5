// Package policy holds per-endpoint declarations and merges them with the
// per-request results of authorization callbacks into an Effective policy.
//
// An Endpoint is built once at registration and only read afterwards, so it
// is shared by concurrent requests. Effective values are request-scoped.
package policy

import (
	"context"
	"fmt"
	"slices"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/request"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

// JoinOptions declares a relation that may be joined. Keys of Options.Join
// are relation paths such as "company" or "company.projects".
type JoinOptions struct {
	// Allow limits the selectable fields of the joined relation.
	Allow []string `mapstructure:"allow"`
	// Exclude hides fields of the joined relation.
	Exclude []string `mapstructure:"exclude"`
	// Eager joins the relation even when the request does not ask for it.
	Eager bool `mapstructure:"eager"`
	// Required turns the join into an inner join.
	Required bool `mapstructure:"required"`
	// Persist lists nested fields a create request may set.
	Persist []string `mapstructure:"persist"`
	// Alias is an additional name the joined fields are addressable by.
	Alias string `mapstructure:"alias"`
}

// Options are the query options of an endpoint.
type Options struct {
	Allow   []string               `mapstructure:"allow"`
	Exclude []string               `mapstructure:"exclude"`
	Join    map[string]JoinOptions `mapstructure:"join"`
	// Filter conditions are AND-ed to every query.
	Filter []condition.Node `mapstructure:"filter"`
	// Or conditions form one OR group that is AND-ed to every query.
	Or []condition.Node `mapstructure:"or"`
	// Search is a mandatory tree AND-ed to every query.
	Search         condition.Node `mapstructure:"search"`
	Sort           []request.Sort `mapstructure:"sort"`
	Limit          int            `mapstructure:"limit"`
	MaxLimit       int            `mapstructure:"maxLimit"`
	Cache          int            `mapstructure:"cache"`
	AlwaysPaginate bool           `mapstructure:"alwaysPaginate"`
}

// Grant is what an authorization callback adds to a request.
type Grant struct {
	Filter []condition.Node
	Or     []condition.Node
	// Scope narrows the fields the request may see and reference. Nil means
	// no narrowing.
	Scope []string
	// Persist values override request body values on create and update.
	Persist map[string]any
}

// AuthFunc computes request constraints. ok=false means the callback adds no
// constraint.
type AuthFunc func(ctx context.Context) (grant Grant, ok bool, err error)

// Endpoint is the declaration a CRUD endpoint is generated from.
type Endpoint struct {
	Table  string
	Query  Options
	Auth   []AuthFunc
	Routes Routes
}

// Validate checks the declaration against the model.
func (e *Endpoint) Validate(tables schema.Tables) error {
	table, ok := tables.Lookup(e.Table)
	if !ok {
		return fmt.Errorf("endpoint table %q not found", e.Table)
	}
	if len(table.PrimaryKeys) == 0 {
		return fmt.Errorf("table %q has no primary key", table.FullName())
	}
	for _, f := range slices.Concat(e.Query.Allow, e.Query.Exclude) {
		if !table.HasColumn(f) {
			return fmt.Errorf("table %q has no column %q", table.FullName(), f)
		}
	}
	for _, leaf := range e.mandatoryLeaves() {
		if err := leaf.Validate(); err != nil {
			return fmt.Errorf("endpoint %q: %w", e.Table, err)
		}
	}
	if e.Query.Limit < 0 || e.Query.MaxLimit < 0 {
		return fmt.Errorf("endpoint %q: limits must not be negative", e.Table)
	}
	for _, r := range slices.Concat(e.Routes.Only, e.Routes.Exclude) {
		if !slices.Contains(AllRoutes(), r) {
			return fmt.Errorf("endpoint %q: unknown route %q", e.Table, r)
		}
	}
	return nil
}

func (e *Endpoint) mandatoryLeaves() []condition.Leaf {
	var out []condition.Leaf
	for _, n := range slices.Concat(e.Query.Filter, e.Query.Or) {
		out = append(out, condition.Leaves(n)...)
	}
	return append(out, condition.Leaves(e.Query.Search)...)
}
