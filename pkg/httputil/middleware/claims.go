package middleware

import (
	"context"
	"math"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/policy"
	"github.com/edgeflare/pgcrud/pkg/util"
)

// ClaimFilter returns an authorization callback restricting rows to those
// whose column equals the claim at path, e.g. ".company_id" or
// ".user.org". With persist set, the claim value is also written on create
// and update. Requests without an authenticated identity are rejected.
func ClaimFilter(column, path string, persist bool) policy.AuthFunc {
	return func(ctx context.Context) (policy.Grant, bool, error) {
		claims, ok := httputil.Claims(ctx)
		if !ok {
			return policy.Grant{}, false, fault.New(fault.Unauthorized, "authentication required")
		}
		v, err := util.Jq(claims, path)
		if err != nil || v == nil {
			return policy.Grant{}, false, fault.New(fault.Unauthorized, "claim %s missing", path)
		}

		v = claimValue(v)
		grant := policy.Grant{
			Filter: []condition.Node{condition.Leaf{Field: column, Operator: condition.Eq, Value: v}},
		}
		if persist {
			grant.Persist = map[string]any{column: v}
		}
		return grant, true, nil
	}
}

// ClaimScope narrows the visible fields by role. The role is read from the
// claim at path and looked up in scopes; unknown or missing roles add no
// constraint.
func ClaimScope(path string, scopes map[string][]string) policy.AuthFunc {
	return func(ctx context.Context) (policy.Grant, bool, error) {
		claims, ok := httputil.Claims(ctx)
		if !ok {
			return policy.Grant{}, false, nil
		}
		role, err := util.JqString(claims, path)
		if err != nil {
			return policy.Grant{}, false, nil
		}
		fields, ok := scopes[role]
		if !ok {
			return policy.Grant{}, false, nil
		}
		return policy.Grant{Scope: fields}, true, nil
	}
}

// claimValue turns whole JSON numbers back into integers so they compare
// against integer columns.
func claimValue(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return condition.Normalize(v)
}
