// Package execute runs compiled plans through an engine and shapes the flat
// result rows into nested entities.
package execute

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/engine"
	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/plan"
	"github.com/edgeflare/pgcrud/pkg/schema"
	"github.com/edgeflare/pgcrud/pkg/sqlbuild"
)

// Executor runs plans and row mutations. It is safe for concurrent use.
type Executor struct {
	engine engine.Engine
	logger *zap.Logger
}

type Option func(*Executor)

func WithLogger(logger *zap.Logger) Option {
	return func(x *Executor) {
		x.logger = logger
	}
}

func New(e engine.Engine, opts ...Option) *Executor {
	x := &Executor{engine: e, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Executor) Dialect() *sqlbuild.Dialect {
	return x.engine.Dialect()
}

// Page is the response envelope of paginated reads.
type Page struct {
	Data      []map[string]any `json:"data"`
	Count     int              `json:"count"`
	Total     int              `json:"total"`
	Page      int              `json:"page"`
	PageCount int              `json:"pageCount"`
}

// NewPage builds the envelope for one page of data out of total entities.
func NewPage(data []map[string]any, total int, limit, offset *int) *Page {
	if data == nil {
		data = []map[string]any{}
	}
	p := &Page{Data: data, Count: len(data), Total: total, Page: 1, PageCount: 1}
	if limit != nil && *limit > 0 {
		off := 0
		if offset != nil {
			off = *offset
		}
		p.Page = off / *limit + 1
		if total > 0 {
			p.PageCount = (total + *limit - 1) / *limit
		}
	}
	return p
}

// Many runs a read plan. It returns a *Page when the plan is paginated and
// a []map[string]any otherwise.
func (x *Executor) Many(ctx context.Context, pl *plan.Plan) (any, error) {
	data, total, err := x.rows(ctx, pl)
	if err != nil {
		return nil, err
	}
	if !pl.Paginate {
		return data, nil
	}

	if !pl.PagesInMemory() && (pl.Limit != nil || pl.Offset != nil) {
		if total, err = x.Count(ctx, pl); err != nil {
			return nil, err
		}
	}
	return NewPage(data, total, pl.Limit, pl.Offset), nil
}

// Rows runs a read plan and returns the entities.
func (x *Executor) Rows(ctx context.Context, pl *plan.Plan) ([]map[string]any, error) {
	data, _, err := x.rows(ctx, pl)
	return data, err
}

// One returns the first entity of the plan, or a NotFound error.
func (x *Executor) One(ctx context.Context, pl *plan.Plan) (map[string]any, error) {
	data, _, err := x.rows(ctx, pl)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fault.New(fault.NotFound, "%s not found", pl.Table.Name)
	}
	return data[0], nil
}

// Count returns the number of root entities matching the plan.
func (x *Executor) Count(ctx context.Context, pl *plan.Plan) (int, error) {
	q, err := x.engine.Dialect().Count(pl)
	if err != nil {
		return 0, err
	}
	rows, err := x.query(engine.WithCache(ctx, pl.Cache), pl.Table.FullName(), "count", q)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, fault.Execution(errors.New("count returned no rows"))
	}
	n, err := toInt(rows[0][0])
	if err != nil {
		return 0, fault.Execution(err)
	}
	return n, nil
}

// rows fetches and groups the entities of pl. total is the number of
// entities before in-memory paging.
func (x *Executor) rows(ctx context.Context, pl *plan.Plan) ([]map[string]any, int, error) {
	q, err := x.engine.Dialect().Select(pl)
	if err != nil {
		return nil, 0, err
	}
	raw, err := x.query(engine.WithCache(ctx, pl.Cache), pl.Table.FullName(), "select", q)
	if err != nil {
		return nil, 0, err
	}

	data := assemble(pl, q.Columns, raw)
	total := len(data)
	if pl.PagesInMemory() {
		data = page(data, pl.Limit, pl.Offset)
	}
	return data, total, nil
}

// Insert creates a row and returns its primary key.
func (x *Executor) Insert(ctx context.Context, t schema.Table, row map[string]any) (map[string]any, error) {
	d := x.engine.Dialect()
	q, err := d.Insert(t, row)
	if err != nil {
		return nil, err
	}

	if d.Returning {
		rows, err := x.query(engine.WithWrite(ctx), t.FullName(), "insert", q)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 || len(rows[0]) < len(t.PrimaryKeys) {
			return nil, fault.Execution(errors.New("insert returned no key"))
		}
		key := make(map[string]any, len(t.PrimaryKeys))
		for i, k := range t.PrimaryKeys {
			key[k] = rows[0][i]
		}
		return key, nil
	}

	res, err := x.exec(ctx, t.FullName(), "insert", q)
	if err != nil {
		return nil, err
	}
	key := make(map[string]any, len(t.PrimaryKeys))
	for _, k := range t.PrimaryKeys {
		if v, ok := row[k]; ok {
			key[k] = v
		}
	}
	if len(key) < len(t.PrimaryKeys) && len(t.PrimaryKeys) == 1 {
		key[t.PrimaryKeys[0]] = res.LastInsertID
	}
	return key, nil
}

// Update sets columns of the row identified by key and returns the number of
// affected rows.
func (x *Executor) Update(ctx context.Context, t schema.Table, key, set map[string]any) (int64, error) {
	q, err := x.engine.Dialect().Update(t, key, set)
	if err != nil {
		return 0, err
	}
	res, err := x.exec(ctx, t.FullName(), "update", q)
	return res.RowsAffected, err
}

// Delete removes the row identified by key and returns the number of
// affected rows.
func (x *Executor) Delete(ctx context.Context, t schema.Table, key map[string]any) (int64, error) {
	q, err := x.engine.Dialect().Delete(t, key)
	if err != nil {
		return 0, err
	}
	res, err := x.exec(ctx, t.FullName(), "delete", q)
	return res.RowsAffected, err
}

func (x *Executor) query(ctx context.Context, table, op string, q sqlbuild.Query) ([][]any, error) {
	start := time.Now()
	rows, err := x.engine.Query(ctx, q)
	metrics.ObserveQuery(table, op, start)
	if err != nil {
		x.logger.Error("query failed",
			zap.String("table", table),
			zap.String("operation", op),
			zap.String("sql", q.SQL),
			zap.Error(err),
		)
		return nil, fault.Execution(err)
	}
	x.logger.Debug("query", zap.String("table", table), zap.String("sql", q.SQL), zap.Int("rows", len(rows)))
	return rows, nil
}

func (x *Executor) exec(ctx context.Context, table, op string, q sqlbuild.Query) (engine.Result, error) {
	start := time.Now()
	res, err := x.engine.Exec(ctx, q)
	metrics.ObserveQuery(table, op, start)
	if err != nil {
		x.logger.Error("exec failed",
			zap.String("table", table),
			zap.String("operation", op),
			zap.String("sql", q.SQL),
			zap.Error(err),
		)
		return engine.Result{}, fault.Execution(err)
	}
	return res, nil
}

func page(data []map[string]any, limit, offset *int) []map[string]any {
	start := 0
	if offset != nil {
		start = max(0, min(*offset, len(data)))
	}
	end := len(data)
	if limit != nil {
		if *limit < end-start {
			end = start + *limit
		}
	}
	return data[start:end]
}

func toInt(v any) (int, error) {
	switch n := condition.Normalize(v).(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unexpected count value %T", v)
	}
}
