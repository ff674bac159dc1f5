// Package engine executes rendered SQL against a database. It is the storage
// side of the execution boundary: the core hands it sqlbuild queries and gets
// back plain rows.
package engine

import (
	"context"

	"github.com/edgeflare/pgcrud/pkg/sqlbuild"
)

// Engine runs queries for one backend.
type Engine interface {
	// Dialect is the SQL dialect queries must be rendered in.
	Dialect() *sqlbuild.Dialect
	// Query returns the result rows, each holding its column values in order.
	// Statements that modify data and return rows run with WithWrite.
	Query(ctx context.Context, q sqlbuild.Query) ([][]any, error)
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, q sqlbuild.Query) (Result, error)
}

// Result describes the effect of Exec. LastInsertID is zero when the
// backend does not report it.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

type cacheKey struct{}

// WithCache marks whether results of queries run with ctx may be served from
// and stored in a cache. Without the mark results are not cached.
func WithCache(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, cacheKey{}, enabled)
}

func cacheEnabled(ctx context.Context) bool {
	enabled, _ := ctx.Value(cacheKey{}).(bool)
	return enabled
}

type writeKey struct{}

// WithWrite marks queries run with ctx as modifying data, such as an INSERT
// with RETURNING. Cached clears its results after them.
func WithWrite(ctx context.Context) context.Context {
	return context.WithValue(ctx, writeKey{}, true)
}

func isWrite(ctx context.Context) bool {
	write, _ := ctx.Value(writeKey{}).(bool)
	return write
}
