package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is what the engine and schema introspection need from PostgreSQL. It
// is satisfied by *pgx.Conn, *pgxpool.Conn, *pgxpool.Pool and pgx.Tx, so
// queries can run on a pool or inside a caller's transaction.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
