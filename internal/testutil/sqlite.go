package testutil

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/pgcrud/pkg/schema"
)

const sqliteDDL = `
CREATE TABLE companies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name VARCHAR(100) NOT NULL,
	domain VARCHAR(100) NOT NULL UNIQUE,
	description TEXT,
	createdAt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updatedAt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name VARCHAR(100) NOT NULL,
	description TEXT,
	isActive BOOLEAN NOT NULL DEFAULT 1,
	companyId INTEGER REFERENCES companies(id),
	budget NUMERIC
);
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email VARCHAR(255) NOT NULL,
	isActive BOOLEAN NOT NULL DEFAULT 1,
	companyId INTEGER NOT NULL REFERENCES companies(id)
);`

// SQLiteTables returns Tables without schema qualification.
func SQLiteTables() schema.Tables {
	var list []schema.Table
	for _, t := range Tables() {
		t.Schema = ""
		t.Relations = nil
		list = append(list, t)
	}
	return schema.NewTables(list...)
}

// SQLite opens a private in-memory database holding the model of Tables,
// seeded with 10 companies, and 20 projects and 20 users two per company.
// Projects 1 to 10 are active.
func SQLite(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteDDL)
	require.NoError(t, err)

	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "INSERT INTO companies (name, domain, description) VALUES ('Name%d', 'Domain%d', 'Description%d');\n", i, i, i)
	}
	for i := 1; i <= 20; i++ {
		fmt.Fprintf(&sb, "INSERT INTO projects (name, description, isActive, companyId, budget) VALUES ('Project%d', 'description%d', %t, %d, %d.5);\n",
			i, i, i <= 10, (i+1)/2, i*100)
		fmt.Fprintf(&sb, "INSERT INTO users (email, isActive, companyId) VALUES ('%d@email.com', 1, %d);\n", i, (i+1)/2)
	}
	_, err = db.Exec(sb.String())
	require.NoError(t, err)
	return db
}
