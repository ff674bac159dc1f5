package execute

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/edgeflare/pgcrud/internal/testutil"
	"github.com/edgeflare/pgcrud/pkg/engine"
	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/plan"
	"github.com/edgeflare/pgcrud/pkg/policy"
	"github.com/edgeflare/pgcrud/pkg/request"
	"github.com/edgeflare/pgcrud/pkg/sqlbuild"
)

type fakeEngine struct {
	dialect *sqlbuild.Dialect
	rows    func(q sqlbuild.Query) [][]any
	result  engine.Result
	err     error

	mu      sync.Mutex
	queries []sqlbuild.Query
}

func (e *fakeEngine) Dialect() *sqlbuild.Dialect { return e.dialect }

func (e *fakeEngine) Query(_ context.Context, q sqlbuild.Query) ([][]any, error) {
	e.mu.Lock()
	e.queries = append(e.queries, q)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	if e.rows == nil {
		return nil, nil
	}
	return e.rows(q), nil
}

func (e *fakeEngine) Exec(_ context.Context, q sqlbuild.Query) (engine.Result, error) {
	e.mu.Lock()
	e.queries = append(e.queries, q)
	e.mu.Unlock()
	return e.result, e.err
}

func compile(t *testing.T, ep policy.Endpoint, query string) *plan.Plan {
	t.Helper()
	tables := testutil.Tables()
	table, ok := tables.Lookup(ep.Table)
	require.True(t, ok)

	p, err := request.DecodeQuery(query)
	require.NoError(t, err)
	eff, err := policy.Resolve(context.Background(), &ep, table, p)
	require.NoError(t, err)
	pl, err := plan.Compile(tables, eff, p)
	require.NoError(t, err)
	return pl
}

// row lays out values keyed by "path.column" in the order of cols.
func row(cols []plan.Ref, values map[string]any) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		key := c.Column
		if c.Path != "" {
			key = c.Path + "." + c.Column
		}
		out[i] = values[key]
	}
	return out
}

func TestAssembleNested(t *testing.T) {
	pl := compile(t, testutil.ProjectsEndpoint(), "fields=name&join=company||name&join=company.projects||name")
	q, err := sqlbuild.Postgres.Select(pl)
	require.NoError(t, err)

	r := func(id int64, name string, companyID any, companyName any, childID any, childName any) []any {
		return row(q.Columns, map[string]any{
			"id": id, "name": name,
			"company.id": companyID, "company.name": companyName,
			"company.projects.id": childID, "company.projects.name": childName,
		})
	}
	rows := [][]any{
		r(1, "P1", int64(1), "C1", int64(2), "P2"),
		r(2, "P2", int64(1), "C1", int64(2), "P2"),
		r(1, "P1", int64(1), "C1", int64(1), "P1"),
		r(2, "P2", int64(1), "C1", int64(1), "P1"),
		r(3, "P3", nil, nil, nil, nil),
	}

	company := func() map[string]any {
		return map[string]any{
			"id":   int64(1),
			"name": "C1",
			"projects": []map[string]any{
				{"id": int64(2), "name": "P2"},
				{"id": int64(1), "name": "P1"},
			},
		}
	}
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "name": "P1", "company": company()},
		{"id": int64(2), "name": "P2", "company": company()},
		{"id": int64(3), "name": "P3", "company": nil},
	}, assemble(pl, q.Columns, rows))
}

func TestManyEmptyToMany(t *testing.T) {
	pl := compile(t, testutil.CompaniesEndpoint(), "fields=name&join=projects||name")
	q, err := sqlbuild.Postgres.Select(pl)
	require.NoError(t, err)

	e := &fakeEngine{dialect: sqlbuild.Postgres, rows: func(sqlbuild.Query) [][]any {
		return [][]any{
			row(q.Columns, map[string]any{"id": int64(2), "name": "C2"}),
			row(q.Columns, map[string]any{"id": int64(3), "name": "C3", "projects.id": int64(5), "projects.name": "P5"}),
		}
	}}
	got, err := New(e).Many(context.Background(), pl)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": int64(2), "name": "C2", "projects": []map[string]any{}},
		{"id": int64(3), "name": "C3", "projects": []map[string]any{{"id": int64(5), "name": "P5"}}},
	}, got)
}

func TestManyPagesInMemory(t *testing.T) {
	pl := compile(t, testutil.CompaniesEndpoint(), "fields=name&join=projects||name&limit=2&page=2")
	require.True(t, pl.PagesInMemory())
	q, err := sqlbuild.Postgres.Select(pl)
	require.NoError(t, err)

	e := &fakeEngine{dialect: sqlbuild.Postgres, rows: func(sqlbuild.Query) [][]any {
		var rows [][]any
		for id := int64(2); id <= 6; id++ {
			rows = append(rows,
				row(q.Columns, map[string]any{"id": id, "name": "C", "projects.id": id * 10, "projects.name": "P"}),
				row(q.Columns, map[string]any{"id": id, "name": "C", "projects.id": id*10 + 1, "projects.name": "P"}),
			)
		}
		return rows
	}}
	got, err := New(e).Many(context.Background(), pl)
	require.NoError(t, err)

	pg, ok := got.(*Page)
	require.True(t, ok)
	assert.Equal(t, 2, pg.Count)
	assert.Equal(t, 5, pg.Total)
	assert.Equal(t, 2, pg.Page)
	assert.Equal(t, 3, pg.PageCount)
	require.Len(t, pg.Data, 2)
	assert.Equal(t, int64(4), pg.Data[0]["id"])
	assert.Equal(t, int64(5), pg.Data[1]["id"])
	assert.Len(t, pg.Data[0]["projects"], 2)

	require.Len(t, e.queries, 1)
	assert.NotContains(t, e.queries[0].SQL, "LIMIT")
}

func TestPageBounds(t *testing.T) {
	data := make([]map[string]any, 4)
	for i := range data {
		data[i] = map[string]any{"id": int64(i)}
	}
	ptr := func(n int) *int { return &n }

	tests := []struct {
		name          string
		limit, offset *int
		want          int
	}{
		{"no paging", nil, nil, 4},
		{"limit", ptr(3), nil, 3},
		{"offset", nil, ptr(1), 3},
		{"offset past the end", ptr(2), ptr(9), 0},
		{"negative offset", ptr(2), ptr(-9), 2},
		{"huge limit", ptr(math.MaxInt), ptr(1), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, page(data, tt.limit, tt.offset), tt.want)
		})
	}
}

func TestManyCountsTotal(t *testing.T) {
	pl := compile(t, testutil.ProjectsEndpoint(), "fields=name&limit=2&offset=2")
	require.True(t, pl.Paginate)

	e := &fakeEngine{dialect: sqlbuild.Postgres, rows: func(q sqlbuild.Query) [][]any {
		if strings.Contains(q.SQL, "COUNT(") {
			return [][]any{{int64(7)}}
		}
		return [][]any{{int64(3), "P3"}, {int64(4), "P4"}}
	}}
	got, err := New(e).Many(context.Background(), pl)
	require.NoError(t, err)
	assert.Equal(t, &Page{
		Data:      []map[string]any{{"id": int64(3), "name": "P3"}, {"id": int64(4), "name": "P4"}},
		Count:     2,
		Total:     7,
		Page:      2,
		PageCount: 4,
	}, got)
	require.Len(t, e.queries, 2)
	assert.Contains(t, e.queries[0].SQL, "LIMIT 2 OFFSET 2")
}

func TestNewPage(t *testing.T) {
	limit, offset := 10, 0
	p := NewPage(nil, 0, &limit, &offset)
	assert.NotNil(t, p.Data)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 1, p.PageCount)

	p = NewPage(nil, 25, nil, nil)
	assert.Equal(t, 1, p.PageCount)
}

func TestNormalizeBool(t *testing.T) {
	pl := compile(t, testutil.ProjectsEndpoint(), "fields=isActive")
	e := &fakeEngine{dialect: sqlbuild.SQLite, rows: func(sqlbuild.Query) [][]any {
		return [][]any{{int64(1), int64(1)}, {int64(2), int64(0)}}
	}}
	got, err := New(e).Rows(context.Background(), pl)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "isActive": true},
		{"id": int64(2), "isActive": false},
	}, got)
}

func TestOneNotFound(t *testing.T) {
	pl := compile(t, testutil.ProjectsEndpoint(), "")
	_, err := New(&fakeEngine{dialect: sqlbuild.Postgres}).One(context.Background(), pl)
	require.ErrorIs(t, err, fault.ErrNotFound)
}

func TestQueryFailureLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	boom := errors.New("relation does not exist")
	e := &fakeEngine{dialect: sqlbuild.Postgres, err: boom}

	pl := compile(t, testutil.ProjectsEndpoint(), "")
	_, err := New(e, WithLogger(zap.New(core))).Many(context.Background(), pl)
	require.ErrorIs(t, err, fault.ErrExecutionFailed)
	require.ErrorIs(t, err, boom)

	entries := logs.FilterMessage("query failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "public.projects", entries[0].ContextMap()["table"])
}

func TestInsertReturning(t *testing.T) {
	table, _ := testutil.Tables().Lookup("projects")
	e := &fakeEngine{dialect: sqlbuild.Postgres, rows: func(sqlbuild.Query) [][]any {
		return [][]any{{int64(42)}}
	}}
	key, err := New(e).Insert(context.Background(), table, map[string]any{"name": "P"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(42)}, key)
	assert.Contains(t, e.queries[0].SQL, "RETURNING")
}

func TestInsertReturningClearsCachedResults(t *testing.T) {
	table, _ := testutil.Tables().Lookup("projects")
	e := &fakeEngine{dialect: sqlbuild.Postgres, rows: func(q sqlbuild.Query) [][]any {
		if strings.HasPrefix(q.SQL, "INSERT") {
			return [][]any{{int64(21)}}
		}
		return nil
	}}
	x := New(engine.NewCached(e, time.Hour))

	ep := testutil.ProjectsEndpoint()
	ep.Query.Cache = 60
	pl := compile(t, ep, "filter=name||eq||NewOne")
	require.True(t, pl.Cache)

	ctx := context.Background()
	for range 2 {
		_, err := x.Many(ctx, pl)
		require.NoError(t, err)
	}
	require.Len(t, e.queries, 1, "second read is cached")

	_, err := x.Insert(ctx, table, map[string]any{"name": "NewOne"})
	require.NoError(t, err)
	_, err = x.Many(ctx, pl)
	require.NoError(t, err)
	assert.Len(t, e.queries, 3, "read after insert reaches the database")
}

func TestInsertLastInsertID(t *testing.T) {
	table, _ := testutil.Tables().Lookup("projects")
	e := &fakeEngine{dialect: sqlbuild.MySQL, result: engine.Result{RowsAffected: 1, LastInsertID: 9}}
	x := New(e)

	key, err := x.Insert(context.Background(), table, map[string]any{"name": "P"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(9)}, key)

	key, err = x.Insert(context.Background(), table, map[string]any{"id": int64(3), "name": "P"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(3)}, key)
}

func TestUpdateDelete(t *testing.T) {
	table, _ := testutil.Tables().Lookup("projects")
	e := &fakeEngine{dialect: sqlbuild.Postgres, result: engine.Result{RowsAffected: 1}}
	x := New(e)

	n, err := x.Update(context.Background(), table, map[string]any{"id": int64(1)}, map[string]any{"name": "Q"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = x.Delete(context.Background(), table, map[string]any{"id": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, e.queries, 2)
	assert.True(t, strings.HasPrefix(e.queries[1].SQL, "DELETE FROM"))

	_, err = x.Update(context.Background(), table, map[string]any{"id": int64(1)}, map[string]any{})
	require.ErrorIs(t, err, fault.ErrInvalidBody)
}
