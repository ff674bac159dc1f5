// Package sqlbuild renders query plans and row mutations as parameterised
// SQL for PostgreSQL, MySQL, SQLite and ClickHouse.
package sqlbuild

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Dialect holds the syntax differences between backends.
type Dialect struct {
	Name string
	// Returning reports whether INSERT ... RETURNING is supported.
	Returning bool

	quote       func(string) string
	placeholder func(n int) string
	text        func(expr string) string
	// ilike renders case-insensitive patterns with ILIKE instead of LOWER.
	ilike bool
	// glob renders case-sensitive patterns with GLOB, since LIKE ignores case.
	glob bool
	// likeEscape is the LIKE escape character; empty means the backend's
	// default backslash without an ESCAPE clause.
	likeEscape string
	// noLimit is the LIMIT used when only an offset is given.
	noLimit string
}

var (
	Postgres = &Dialect{
		Name:        "postgres",
		Returning:   true,
		quote:       func(s string) string { return pgx.Identifier{s}.Sanitize() },
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		text:        func(expr string) string { return "CAST(" + expr + " AS TEXT)" },
		ilike:       true,
		likeEscape:  "!",
	}

	MySQL = &Dialect{
		Name:        "mysql",
		quote:       backtick,
		placeholder: question,
		text:        func(expr string) string { return "CAST(" + expr + " AS CHAR)" },
		likeEscape:  "!",
		noLimit:     "18446744073709551615",
	}

	SQLite = &Dialect{
		Name:        "sqlite3",
		Returning:   true,
		quote:       doubleQuote,
		placeholder: question,
		text:        func(expr string) string { return "CAST(" + expr + " AS TEXT)" },
		glob:        true,
		likeEscape:  "!",
		noLimit:     "-1",
	}

	ClickHouse = &Dialect{
		Name:        "clickhouse",
		quote:       backtick,
		placeholder: question,
		text:        func(expr string) string { return "toString(" + expr + ")" },
		ilike:       true,
	}
)

// ForDriver returns the dialect of a database/sql driver name.
func ForDriver(driver string) (*Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "clickhouse":
		return ClickHouse, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// Quote quotes a possibly qualified identifier, skipping empty parts.
func (d *Dialect) Quote(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			quoted = append(quoted, d.quote(p))
		}
	}
	return strings.Join(quoted, ".")
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d *Dialect) Placeholder(n int) string {
	return d.placeholder(n)
}

func (d *Dialect) String() string {
	return d.Name
}

func backtick(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func question(int) string {
	return "?"
}

// escapeLike escapes LIKE wildcards in s.
func (d *Dialect) escapeLike(s string) string {
	esc := d.likeEscape
	if esc == "" {
		esc = `\`
	}
	r := strings.NewReplacer(esc, esc+esc, "%", esc+"%", "_", esc+"_")
	return r.Replace(s)
}

func (d *Dialect) escapeClause() string {
	if d.likeEscape == "" {
		return ""
	}
	return " ESCAPE '" + d.likeEscape + "'"
}

// escapeGlob escapes GLOB wildcards in s.
func escapeGlob(s string) string {
	r := strings.NewReplacer("[", "[[]", "*", "[*]", "?", "[?]")
	return r.Replace(s)
}
