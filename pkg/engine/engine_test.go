package engine

import (
	"context"
	"errors"
	"math/big"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/pgcrud/internal/testutil/pgtest"
	"github.com/edgeflare/pgcrud/pkg/sqlbuild"
)

func newMock(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQL(db, sqlbuild.MySQL), mock
}

func TestSQLQuery(t *testing.T) {
	e, mock := newMock(t)
	q := sqlbuild.Query{SQL: "SELECT `id`, `name`, `budget` FROM `projects` WHERE `id` > ?", Args: []any{int64(1)}}

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("INT", int64(0)),
		sqlmock.NewColumn("name").OfType("VARCHAR", ""),
		sqlmock.NewColumn("budget").OfType("DECIMAL", ""),
	).
		AddRow([]byte("2"), []byte("Project2"), []byte("10.5")).
		AddRow(int64(3), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).WithArgs(int64(1)).WillReturnRows(rows)

	got, err := e.Query(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{int64(2), "Project2", 10.5},
		{int64(3), nil, nil},
	}, got)
	assert.Same(t, sqlbuild.MySQL, e.Dialect())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLQueryError(t *testing.T) {
	e, mock := newMock(t)
	boom := errors.New("server has gone away")
	mock.ExpectQuery("SELECT 1").WillReturnError(boom)

	_, err := e.Query(context.Background(), sqlbuild.Query{SQL: "SELECT 1"})
	require.ErrorIs(t, err, boom)
}

func TestSQLExec(t *testing.T) {
	e, mock := newMock(t)
	q := sqlbuild.Query{SQL: "INSERT INTO `companies` (`name`) VALUES (?)", Args: []any{"A"}}
	mock.ExpectExec(regexp.QuoteMeta(q.SQL)).WithArgs("A").WillReturnResult(sqlmock.NewResult(11, 1))

	res, err := e.Exec(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, Result{RowsAffected: 1, LastInsertID: 11}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLValue(t *testing.T) {
	s := "x"
	var nilString *string
	assert.Equal(t, "x", sqlValue(&s, ""))
	assert.Nil(t, sqlValue(nilString, ""))
	assert.Equal(t, "abc", sqlValue([]byte("abc"), "int"))
	assert.Equal(t, int64(7), sqlValue(int64(7), "int"))
}

func TestPGValue(t *testing.T) {
	n := pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true}
	assert.Equal(t, 12.5, pgValue(n))
	assert.Nil(t, pgValue(pgtype.Numeric{}))
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", pgValue([16]byte{
		0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8,
	}))
	assert.Equal(t, "plain", pgValue("plain"))
}

type countingEngine struct {
	mu      sync.Mutex
	queries int
}

func (e *countingEngine) Dialect() *sqlbuild.Dialect { return sqlbuild.SQLite }

func (e *countingEngine) Query(context.Context, sqlbuild.Query) ([][]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries++
	return [][]any{{int64(e.queries)}}, nil
}

func (e *countingEngine) Exec(context.Context, sqlbuild.Query) (Result, error) {
	return Result{RowsAffected: 1}, nil
}

func TestCached(t *testing.T) {
	inner := &countingEngine{}
	c := NewCached(inner, time.Minute)
	q := sqlbuild.Query{SQL: "SELECT 1", Args: []any{int64(1)}}
	ctx := WithCache(context.Background(), true)

	first, err := c.Query(ctx, q)
	require.NoError(t, err)
	second, err := c.Query(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.queries)

	_, err = c.Query(ctx, sqlbuild.Query{SQL: "SELECT 1", Args: []any{int64(2)}})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.queries)

	_, err = c.Query(context.Background(), q)
	require.NoError(t, err)
	_, err = c.Query(WithCache(context.Background(), false), q)
	require.NoError(t, err)
	assert.Equal(t, 4, inner.queries)

	_, err = c.Exec(ctx, sqlbuild.Query{SQL: "DELETE FROM t"})
	require.NoError(t, err)
	assert.Zero(t, c.store.Len())
	_, err = c.Query(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 5, inner.queries)
}

func TestCachedClearsAfterWriteQuery(t *testing.T) {
	inner := &countingEngine{}
	c := NewCached(inner, time.Minute)
	read := sqlbuild.Query{SQL: "SELECT id FROM projects"}
	ctx := WithCache(context.Background(), true)

	_, err := c.Query(ctx, read)
	require.NoError(t, err)
	require.Equal(t, 1, c.store.Len())

	// a write is never cached, even on a context that allows caching
	insert := sqlbuild.Query{SQL: "INSERT INTO projects (name) VALUES ($1) RETURNING id", Args: []any{"NewOne"}}
	_, err = c.Query(WithWrite(ctx), insert)
	require.NoError(t, err)
	assert.Zero(t, c.store.Len())
	assert.Equal(t, 2, inner.queries)

	_, err = c.Query(ctx, read)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.queries)
}

func TestStoreExpiration(t *testing.T) {
	s := NewStore()
	s.Set("short", [][]any{{1}}, 10*time.Millisecond)
	s.Set("long", [][]any{{2}}, time.Minute)

	time.Sleep(20 * time.Millisecond)
	_, found := s.Get("short")
	assert.False(t, found)

	s.CleanupExpired()
	assert.Equal(t, 1, s.Len())
	v, found := s.Get("long")
	require.True(t, found)
	assert.Equal(t, [][]any{{2}}, v)
}

func TestStoreConcurrency(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Set(string(rune('a'+i%26)), [][]any{{i}}, time.Minute)
		}()
		go func() {
			defer wg.Done()
			s.Get(string(rune('a' + i%26)))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 26)
}

func TestPGX(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(ctx, t)
	pgtest.Seed(ctx, t, pool)

	e := NewPGX(pool)
	rows, err := e.Query(ctx, sqlbuild.Query{
		SQL:  `SELECT id, name FROM pgcrud_test.companies WHERE id <= $1 ORDER BY id`,
		Args: []any{int64(2)},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0][0])

	res, err := e.Exec(ctx, sqlbuild.Query{
		SQL:  `UPDATE pgcrud_test.companies SET description = $1 WHERE id = $2`,
		Args: []any{"updated", int64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
}
