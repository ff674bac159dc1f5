package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTables() Tables {
	return NewTables(
		Table{
			Schema:      "public",
			Name:        "companies",
			PrimaryKeys: []string{"id"},
			Columns: []Column{
				{Name: "id", DataType: "integer"},
				{Name: "name", DataType: "character varying"},
			},
		},
		Table{
			Schema: "public",
			Name:   "users",
			Columns: []Column{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "email", DataType: "text"},
				{Name: "companyId", DataType: "integer"},
			},
			ForeignKeys: []ForeignKey{{Column: "companyId", ReferencedTable: "companies", ReferencedColumn: "id"}},
		},
		Table{
			Schema:      "public",
			Name:        "projects",
			PrimaryKeys: []string{"id"},
			Columns: []Column{
				{Name: "id", DataType: "integer"},
				{Name: "company_id", DataType: "integer"},
			},
			ForeignKeys: []ForeignKey{{Column: "company_id", ReferencedSchema: "public", ReferencedTable: "companies", ReferencedColumn: "id"}},
		},
	)
}

func TestNewTablesDerivesRelations(t *testing.T) {
	tables := testTables()

	companies, ok := tables.Lookup("companies")
	require.True(t, ok)
	assert.Equal(t, []Relation{
		{Name: "projects", Target: "public.projects", LocalColumn: "id", TargetColumn: "company_id", Many: true},
		{Name: "users", Target: "public.users", LocalColumn: "id", TargetColumn: "companyId", Many: true},
	}, companies.Relations)

	users := tables["public.users"]
	assert.Equal(t, []string{"id"}, users.PrimaryKeys)
	rel, ok := users.Relation("company")
	require.True(t, ok)
	assert.Equal(t, Relation{Name: "company", Target: "public.companies", LocalColumn: "companyId", TargetColumn: "id"}, rel)

	projects := tables["public.projects"]
	_, ok = projects.Relation("company")
	assert.True(t, ok)

	col, ok := projects.Column("id")
	require.True(t, ok)
	assert.True(t, col.IsPrimaryKey)
	assert.Equal(t, KindInt, col.Kind)
	assert.Equal(t, TypeTable, projects.Type)
}

func TestLinkKeepsDeclaredRelations(t *testing.T) {
	tables := testTables()
	users := tables["public.users"]
	users.Relations = []Relation{{Name: "company", Target: "public.companies", LocalColumn: "companyId", TargetColumn: "id", Many: true}}
	tables["public.users"] = users

	linked := tables.Link()
	rel, ok := linked["public.users"].Relation("company")
	require.True(t, ok)
	assert.True(t, rel.Many, "declared relation must win")
	assert.Len(t, linked["public.users"].Relations, 1)
}

func TestLookup(t *testing.T) {
	tables := NewTables(
		Table{Name: "items", Columns: []Column{{Name: "id"}}},
		Table{Schema: "a", Name: "dup"},
		Table{Schema: "b", Name: "dup"},
	)

	_, ok := tables.Lookup("items")
	assert.True(t, ok)
	_, ok = tables.Lookup("a.dup")
	assert.True(t, ok)
	_, ok = tables.Lookup("dup")
	assert.False(t, ok, "ambiguous bare names do not resolve")
	_, ok = tables.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a.dup", "b.dup", "items"}, tables.Keys())
	assert.Equal(t, tables, tables.Snapshot())
}

func TestRelationNameFallsBackOnColumnClash(t *testing.T) {
	tables := NewTables(
		Table{Name: "owners", PrimaryKeys: []string{"id"}, Columns: []Column{{Name: "id"}}},
		Table{
			Name:        "pets",
			PrimaryKeys: []string{"id"},
			Columns:     []Column{{Name: "id"}, {Name: "owner"}, {Name: "owner_id"}},
			ForeignKeys: []ForeignKey{{Column: "owner_id", ReferencedTable: "owners", ReferencedColumn: "id"}},
		},
	)

	_, ok := tables["pets"].Relation("owners")
	assert.True(t, ok)
}

func TestKindOf(t *testing.T) {
	tests := map[string]Kind{
		"integer":                  KindInt,
		"bigint":                   KindInt,
		"Int64":                    KindInt,
		"UInt8":                    KindInt,
		"Nullable(Int32)":          KindInt,
		"interval":                 KindOther,
		"point":                    KindOther,
		"numeric":                  KindFloat,
		"double precision":         KindFloat,
		"Float64":                  KindFloat,
		"decimal(10,2)":            KindFloat,
		"boolean":                  KindBool,
		"timestamp with time zone": KindTime,
		"date":                     KindTime,
		"DateTime64(3)":            KindTime,
		"character varying":        KindString,
		"varchar(255)":             KindString,
		"text":                     KindString,
		"uuid":                     KindString,
		"String":                   KindString,
		"jsonb":                    KindOther,
		"":                         KindOther,
	}
	for in, want := range tests {
		assert.Equal(t, want, KindOf(in), in)
	}
}
