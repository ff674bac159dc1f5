// Package pgtest provides PostgreSQL fixtures for integration tests. Tests
// using it are skipped unless TEST_DATABASE holds a connection string.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// ConnString returns TEST_DATABASE or skips the test.
func ConnString(t testing.TB) string {
	t.Helper()
	connString := os.Getenv("TEST_DATABASE")
	if connString == "" {
		t.Skip("TEST_DATABASE not set")
	}
	return connString
}

// ParseConfig returns a test connection config that logs server notices.
func ParseConfig(t testing.TB) *pgx.ConnConfig {
	config, err := pgx.ParseConfig(ConnString(t))
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}
	return config
}

// Connect opens a connection closed at test cleanup.
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	conn, err := pgx.ConnectConfig(ctx, ParseConfig(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, conn.Close(ctx))
	})
	return conn
}

// Pool opens a pool closed at test cleanup.
func Pool(ctx context.Context, t testing.TB) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, ConnString(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// Fixture is the companies/projects/users model with seed rows used by the
// integration tests.
const Fixture = `
DROP TABLE IF EXISTS pgcrud_test.projects, pgcrud_test.users, pgcrud_test.companies;
CREATE SCHEMA IF NOT EXISTS pgcrud_test;
CREATE TABLE pgcrud_test.companies (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	domain TEXT NOT NULL,
	description TEXT,
	"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE pgcrud_test.projects (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	"isActive" BOOLEAN NOT NULL DEFAULT true,
	"companyId" INTEGER NOT NULL REFERENCES pgcrud_test.companies(id)
);
CREATE TABLE pgcrud_test.users (
	id SERIAL PRIMARY KEY,
	email TEXT NOT NULL,
	"isActive" BOOLEAN NOT NULL DEFAULT true,
	"companyId" INTEGER REFERENCES pgcrud_test.companies(id)
);
INSERT INTO pgcrud_test.companies (name, domain)
	SELECT 'Name' || i, 'Domain' || i FROM generate_series(1, 10) AS i;
INSERT INTO pgcrud_test.projects (name, "isActive", "companyId")
	SELECT 'Project' || i, i <= 10, (i + 1) / 2 FROM generate_series(1, 20) AS i;
INSERT INTO pgcrud_test.users (email, "companyId")
	SELECT i || '@email.com', (i + 1) / 2 FROM generate_series(1, 20) AS i;
`

// Seed creates the fixture schema and drops it at test cleanup.
func Seed(ctx context.Context, t testing.TB, pool *pgxpool.Pool) {
	_, err := pool.Exec(ctx, Fixture)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS pgcrud_test CASCADE")
	})
}
