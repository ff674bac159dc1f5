package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/sqlbuild"
)

// PGX runs queries on a pgx connection or pool.
type PGX struct {
	conn pg.Conn
}

func NewPGX(conn pg.Conn) *PGX {
	return &PGX{conn: conn}
}

func (e *PGX) Dialect() *sqlbuild.Dialect {
	return sqlbuild.Postgres
}

func (e *PGX) Query(ctx context.Context, q sqlbuild.Query) ([][]any, error) {
	rows, err := e.conn.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for i, v := range values {
			values[i] = pgValue(v)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (e *PGX) Exec(ctx context.Context, q sqlbuild.Query) (Result, error) {
	tag, err := e.conn.Exec(ctx, q.SQL, q.Args...)
	if err != nil {
		return Result{}, fmt.Errorf("exec: %w", err)
	}
	return Result{RowsAffected: tag.RowsAffected()}, nil
}

// pgValue converts pgx values without a natural JSON form.
func pgValue(v any) any {
	switch v := v.(type) {
	case pgtype.Numeric:
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(v).String()
	default:
		return v
	}
}
