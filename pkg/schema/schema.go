// Package schema describes the relational model endpoints are generated for:
// tables, their columns and primary keys, and the relations derived from
// foreign keys. Models come either from PostgreSQL introspection (Cache) or
// from a static declaration (Tables).
package schema

import (
	"fmt"
	"slices"
	"strings"
)

type TableType string

const (
	TypeTable            TableType = "TABLE"
	TypeView             TableType = "VIEW"
	TypeMaterializedView TableType = "MATERIALIZED VIEW"
)

// Kind is the coarse value class of a column, used to coerce condition values.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindTime   Kind = "time"
	KindOther  Kind = "other"
)

type Table struct {
	Schema      string       `json:"schema,omitempty" mapstructure:"schema"`
	Name        string       `json:"name" mapstructure:"name"`
	Type        TableType    `json:"type,omitempty" mapstructure:"type"`
	Columns     []Column     `json:"columns" mapstructure:"columns"`
	PrimaryKeys []string     `json:"primary_keys" mapstructure:"primaryKeys"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty" mapstructure:"foreignKeys"`
	Relations   []Relation   `json:"relations,omitempty" mapstructure:"relations"`
	ViewQuery   string       `json:"view_query,omitempty" mapstructure:"-"`
}

type Column struct {
	Name         string `json:"name" mapstructure:"name"`
	DataType     string `json:"data_type" mapstructure:"dataType"`
	Kind         Kind   `json:"kind" mapstructure:"kind"`
	IsNullable   bool   `json:"is_nullable" mapstructure:"nullable"`
	IsPrimaryKey bool   `json:"is_primary_key" mapstructure:"primaryKey"`
}

type ForeignKey struct {
	Column           string `json:"column" mapstructure:"column"`
	ReferencedSchema string `json:"referenced_schema,omitempty" mapstructure:"referencedSchema"`
	ReferencedTable  string `json:"referenced_table" mapstructure:"referencedTable"`
	ReferencedColumn string `json:"referenced_column" mapstructure:"referencedColumn"`
}

// Relation joins a table to Target on LocalColumn = TargetColumn. Many marks
// a one-to-many relation, which yields an array of related rows.
type Relation struct {
	Name         string `json:"name" mapstructure:"name"`
	Target       string `json:"target" mapstructure:"target"`
	LocalColumn  string `json:"local_column" mapstructure:"localColumn"`
	TargetColumn string `json:"target_column" mapstructure:"targetColumn"`
	Many         bool   `json:"many" mapstructure:"many"`
}

// FullName returns schema.name, or name for tables declared without a schema.
func (t Table) FullName() string {
	if t.Schema == "" {
		return t.Name
	}
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Relation returns the named relation.
func (t Table) Relation(name string) (Relation, bool) {
	for _, r := range t.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Tables is a model keyed by Table.FullName.
type Tables map[string]Table

// Source provides a consistent view of the model.
type Source interface {
	Snapshot() Tables
}

// Snapshot lets a static model act as a Source.
func (t Tables) Snapshot() Tables {
	return t
}

// NewTables indexes tables by full name, fills missing column kinds and
// primary-key flags, and derives relations from foreign keys.
func NewTables(tables ...Table) Tables {
	out := make(Tables, len(tables))
	for _, t := range tables {
		t.Columns = slices.Clone(t.Columns)
		for i, c := range t.Columns {
			if c.Kind == "" {
				t.Columns[i].Kind = KindOf(c.DataType)
			}
			if slices.Contains(t.PrimaryKeys, c.Name) {
				t.Columns[i].IsPrimaryKey = true
			}
		}
		if len(t.PrimaryKeys) == 0 {
			for _, c := range t.Columns {
				if c.IsPrimaryKey {
					t.PrimaryKeys = append(t.PrimaryKeys, c.Name)
				}
			}
		}
		if t.Type == "" {
			t.Type = TypeTable
		}
		out[t.FullName()] = t
	}
	return out.Link()
}

// Lookup resolves name as a full name, then as a table in the public schema,
// then as an unambiguous bare table name.
func (t Tables) Lookup(name string) (Table, bool) {
	if tbl, ok := t[name]; ok {
		return tbl, true
	}
	if tbl, ok := t["public."+name]; ok {
		return tbl, true
	}

	var found []Table
	for _, tbl := range t {
		if tbl.Name == name {
			found = append(found, tbl)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return Table{}, false
}

// Keys returns the table keys in sorted order.
func (t Tables) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Link derives relations from foreign keys and returns a new model. A
// foreign key company_id on projects yields the to-one relation "company" on
// projects and the to-many relation "projects" on the referenced table.
// Declared relations win over derived ones with the same name.
func (t Tables) Link() Tables {
	out := make(Tables, len(t))
	for k, tbl := range t {
		tbl.Relations = slices.Clone(tbl.Relations)
		out[k] = tbl
	}

	for _, key := range t.Keys() {
		src := t[key]
		for _, fk := range src.ForeignKeys {
			target, ok := out.lookupReferenced(src, fk)
			if !ok {
				continue
			}
			name := relationName(fk.Column, target.Name)
			if src.HasColumn(name) {
				name = target.Name
			}
			out.addRelation(key, Relation{
				Name:         name,
				Target:       target.FullName(),
				LocalColumn:  fk.Column,
				TargetColumn: fk.ReferencedColumn,
			})
			out.addRelation(target.FullName(), Relation{
				Name:         src.Name,
				Target:       key,
				LocalColumn:  fk.ReferencedColumn,
				TargetColumn: fk.Column,
				Many:         true,
			})
		}
	}

	for k, tbl := range out {
		slices.SortFunc(tbl.Relations, func(a, b Relation) int { return strings.Compare(a.Name, b.Name) })
		out[k] = tbl
	}
	return out
}

func (t Tables) lookupReferenced(src Table, fk ForeignKey) (Table, bool) {
	schema := fk.ReferencedSchema
	if schema == "" {
		schema = src.Schema
	}
	if tbl, ok := t[Table{Schema: schema, Name: fk.ReferencedTable}.FullName()]; ok {
		return tbl, true
	}
	return t.Lookup(fk.ReferencedTable)
}

func (t Tables) addRelation(key string, rel Relation) {
	tbl := t[key]
	if _, exists := tbl.Relation(rel.Name); exists || tbl.HasColumn(rel.Name) {
		return
	}
	tbl.Relations = append(tbl.Relations, rel)
	t[key] = tbl
}

// relationName strips an _id or Id suffix from a foreign-key column, falling
// back to the referenced table name.
func relationName(column, referenced string) string {
	for _, suffix := range []string{"_id", "Id", "_ID"} {
		if base, ok := strings.CutSuffix(column, suffix); ok && base != "" {
			return base
		}
	}
	return referenced
}

// KindOf maps a SQL data type name to a Kind.
func KindOf(dataType string) Kind {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if inner, ok := strings.CutPrefix(t, "nullable("); ok {
		t = strings.TrimSuffix(inner, ")")
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch t {
	case "smallint", "integer", "int", "bigint", "tinyint", "mediumint",
		"serial", "bigserial", "smallserial":
		return KindInt
	case "real", "double", "double precision", "numeric", "decimal", "money":
		return KindFloat
	case "bool", "boolean":
		return KindBool
	case "date", "time", "timetz", "timestamp", "timestamptz", "datetime", "datetime64",
		"time without time zone", "time with time zone",
		"timestamp without time zone", "timestamp with time zone":
		return KindTime
	case "text", "string", "uuid", "citext", "name", "varchar", "char", "character",
		"character varying", "bpchar", "fixedstring", "enum8", "enum16", "lowcardinality":
		return KindString
	}

	switch {
	case strings.HasPrefix(t, "int") && t != "interval", strings.HasPrefix(t, "uint"):
		return KindInt
	case strings.HasPrefix(t, "float"), strings.HasPrefix(t, "decimal"):
		return KindFloat
	default:
		return KindOther
	}
}
