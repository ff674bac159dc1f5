package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edgeflare/pgcrud/internal/testutil"
	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/engine"
	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/request"
	"github.com/edgeflare/pgcrud/pkg/sqlbuild"
)

const testConfig = `
rest:
  baseURL: /api/
  db:
    driver: sqlite3
    connString: ":memory:"
  basicAuth:
    - {user: alice, password: secret}
tables:
  - name: companies
    primaryKeys: [id]
    columns:
      - {name: id, dataType: integer}
      - {name: name, dataType: character varying}
      - {name: domain, dataType: character varying}
      - {name: description, dataType: text, nullable: true}
      - {name: createdAt, dataType: timestamp}
      - {name: updatedAt, dataType: timestamp}
  - name: users
    primaryKeys: [id]
    columns:
      - {name: id, dataType: integer}
      - {name: email, dataType: character varying}
      - {name: isActive, dataType: boolean}
      - {name: companyId, dataType: integer}
    foreignKeys:
      - {column: companyId, referencedTable: companies, referencedColumn: id}
endpoints:
  - path: /companies
    table: companies
    query:
      exclude: [updatedAt]
      maxLimit: 5
      join:
        - {path: users}
  - path: /users
    table: users
    auth:
      - {claim: .company_id, column: companyId}
`

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgcrud.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	c, err := config.Load(path)
	require.NoError(t, err)
	return c
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("none")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))

	l, err = newLogger("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = newLogger("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	c := loadTestConfig(t)
	model := staticModel(c)
	require.NotNil(t, model)
	ctx := context.Background()

	t.Run("paginated", func(t *testing.T) {
		out, err := explain(ctx, c, model, "companies", "?filter=id||$gt||3&limit=2&page=2")
		require.NoError(t, err)
		assert.Equal(t, "/companies", out.Endpoint)
		assert.Equal(t, "sqlite3", out.Dialect)
		assert.Contains(t, out.SQL, `FROM "companies"`)
		assert.Contains(t, out.SQL, "LIMIT 2 OFFSET 2")
		assert.NotContains(t, out.SQL, "updatedAt")
		assert.Equal(t, []any{int64(3)}, out.Args)
		assert.True(t, out.Paginate)
		assert.False(t, out.PagesInMemory)
		assert.Contains(t, out.CountSQL, "COUNT")
		assert.Equal(t, []any{int64(3)}, out.CountArgs)
	})

	t.Run("to-many join pages in memory", func(t *testing.T) {
		out, err := explain(ctx, c, model, "/companies", "join=users&limit=2&page=1")
		require.NoError(t, err)
		assert.True(t, out.PagesInMemory)
		assert.NotContains(t, out.SQL, "LIMIT")
		assert.Contains(t, out.SQL, "LEFT JOIN")
		assert.Empty(t, out.CountSQL)
	})

	t.Run("max limit applies", func(t *testing.T) {
		out, err := explain(ctx, c, model, "/companies", "")
		require.NoError(t, err)
		assert.Contains(t, out.SQL, "LIMIT 5")
		assert.False(t, out.Paginate)
	})

	t.Run("claim filter", func(t *testing.T) {
		_, err := explain(ctx, c, model, "/users", "")
		require.Error(t, err)
		assert.Equal(t, fault.Unauthorized, fault.KindOf(err))

		authed, err := withIdentity(ctx, `{"sub": "u1", "company_id": 2}`, "")
		require.NoError(t, err)
		out, err := explain(authed, c, model, "/users", "")
		require.NoError(t, err)
		assert.Equal(t, []any{int64(2)}, out.Args)
	})

	t.Run("basic auth user lacks the claim", func(t *testing.T) {
		authed, err := withIdentity(ctx, "", "alice")
		require.NoError(t, err)
		_, err = explain(authed, c, model, "/users", "")
		assert.Equal(t, fault.Unauthorized, fault.KindOf(err))
	})

	t.Run("errors", func(t *testing.T) {
		_, err := explain(ctx, c, model, "/nope", "")
		assert.Error(t, err)

		_, err = explain(ctx, c, model, "/companies", "filter=id||nope||1")
		assert.Equal(t, fault.MalformedCondition, fault.KindOf(err))

		_, err = explain(ctx, c, model, "/companies", "filter=updatedAt||$isnull")
		assert.Equal(t, fault.FieldNotAllowed, fault.KindOf(err))

		_, err = withIdentity(ctx, "{", "")
		assert.Error(t, err)
	})
}

func TestNewRouter(t *testing.T) {
	c := loadTestConfig(t)
	be := &backend{
		source: c.Model(),
		engine: engine.NewSQL(testutil.SQLite(t), sqlbuild.SQLite),
		close:  func() {},
	}
	router, err := newRouter(context.Background(), c, be, zap.NewNop())
	require.NoError(t, err)
	h := router.Handler()

	get := func(target string, auth bool) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		if auth {
			r.SetBasicAuth("alice", "secret")
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	w := get("/api/companies?limit=2", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)
	assert.NotContains(t, rows[0], "updatedAt")

	assert.Equal(t, http.StatusUnauthorized, get("/api/companies", false).Code)
	assert.Equal(t, http.StatusUnauthorized, get("/api/users", true).Code)
	assert.Equal(t, http.StatusNotFound, get("/companies", true).Code)

	w = get("/healthz", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestNewRouterInvalidEndpoint(t *testing.T) {
	c := loadTestConfig(t)
	c.Endpoints = append(c.Endpoints, config.EndpointConfig{Path: "/missing", Table: "missing"})
	be := &backend{source: c.Model(), engine: engine.NewSQL(testutil.SQLite(t), sqlbuild.SQLite), close: func() {}}

	_, err := newRouter(context.Background(), c, be, zap.NewNop())
	assert.ErrorContains(t, err, "/missing")
}

func TestOpenBackendErrors(t *testing.T) {
	c := loadTestConfig(t)
	c.REST.DB.ConnString = ""
	_, err := openBackend(context.Background(), c, zap.NewNop())
	assert.Error(t, err)

	c = loadTestConfig(t)
	c.REST.DB.Driver = "oracle"
	_, err = openBackend(context.Background(), c, zap.NewNop())
	assert.ErrorContains(t, err, "oracle")

	c = loadTestConfig(t)
	c.Tables = nil
	_, err = openBackend(context.Background(), c, zap.NewNop())
	assert.ErrorContains(t, err, "tables")
}

func TestOpenBackendSQLite(t *testing.T) {
	c := loadTestConfig(t)
	be, err := openBackend(context.Background(), c, zap.NewNop())
	require.NoError(t, err)
	defer be.close()

	assert.Nil(t, be.reloads)
	assert.Equal(t, sqlbuild.SQLite, be.engine.Dialect())
	_, ok := be.source.Snapshot().Lookup("users")
	assert.True(t, ok)
}

func TestBuildQuery(t *testing.T) {
	q, err := buildQuery(queryOptions{
		Fields:  []string{"id", "name"},
		Filter:  []string{"name||$starts||A"},
		Or:      []string{"id||eq||1"},
		Join:    []string{"users||email"},
		Sort:    []string{"id,DESC"},
		Search:  `{"isActive": true}`,
		Limit:   10,
		Page:    2,
		NoCache: true,
	})
	require.NoError(t, err)

	p, err := request.DecodeQuery(q)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, p.Fields)
	assert.Equal(t, []condition.Leaf{{Field: "name", Operator: condition.Starts, Value: "A"}}, p.Filter)
	assert.Equal(t, []condition.Leaf{{Field: "id", Operator: condition.Eq, Value: int64(1)}}, p.Or)
	assert.Equal(t, []request.Join{{Field: "users", Select: []string{"email"}}}, p.Join)
	assert.Equal(t, []request.Sort{{Field: "id", Order: request.Desc}}, p.Sort)
	assert.Equal(t, condition.Leaf{Field: "isActive", Operator: condition.Eq, Value: true}, p.Search)
	assert.Equal(t, 10, *p.Limit)
	assert.Equal(t, 2, *p.Page)
	assert.Nil(t, p.Offset)
	assert.False(t, p.WantsCache())

	q, err = buildQuery(queryOptions{})
	require.NoError(t, err)
	assert.Empty(t, q)

	for _, o := range []queryOptions{
		{Filter: []string{"id||nope||1"}},
		{Sort: []string{"id,UP"}},
		{Join: []string{"||email"}},
		{Search: "{"},
	} {
		_, err := buildQuery(o)
		assert.Error(t, err)
	}
}

func TestPrintModel(t *testing.T) {
	model := staticModel(loadTestConfig(t))

	var buf bytes.Buffer
	require.NoError(t, printModel(&buf, model, ""))
	var tables []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &tables))
	require.Len(t, tables, 2)
	assert.Equal(t, "companies", tables[0]["name"])
	assert.Equal(t, "users", tables[1]["name"])

	buf.Reset()
	require.NoError(t, printModel(&buf, model, "users"))
	assert.Contains(t, buf.String(), `"name": "company"`)

	assert.Error(t, printModel(&buf, model, "nope"))
	assert.Nil(t, staticModel(&config.Config{}))
}
