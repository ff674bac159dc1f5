package engine

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strconv"

	"github.com/edgeflare/pgcrud/pkg/schema"
	"github.com/edgeflare/pgcrud/pkg/sqlbuild"
)

// SQL runs queries through database/sql, for the MySQL, SQLite and
// ClickHouse drivers.
type SQL struct {
	db      *sql.DB
	dialect *sqlbuild.Dialect
}

func NewSQL(db *sql.DB, dialect *sqlbuild.Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

func (e *SQL) Dialect() *sqlbuild.Dialect {
	return e.dialect
}

func (e *SQL) Query(ctx context.Context, q sqlbuild.Query) ([][]any, error) {
	rows, err := e.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	kinds := make([]schema.Kind, len(types))
	for i, ct := range types {
		kinds[i] = schema.KindOf(ct.DatabaseTypeName())
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(types))
		dest := make([]any, len(types))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for i, v := range values {
			values[i] = sqlValue(v, kinds[i])
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (e *SQL) Exec(ctx context.Context, q sqlbuild.Query) (Result, error) {
	res, err := e.db.ExecContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return Result{}, fmt.Errorf("exec: %w", err)
	}

	var r Result
	if n, err := res.RowsAffected(); err == nil {
		r.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		r.LastInsertID = id
	}
	return r, nil
}

// sqlValue converts the raw bytes some drivers return for text-protocol
// results, and dereferences pointers returned for nullable columns.
func sqlValue(v any, kind schema.Kind) any {
	if b, ok := v.([]byte); ok {
		s := string(b)
		switch kind {
		case schema.KindInt:
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		case schema.KindFloat:
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
		return s
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}
	return v
}
