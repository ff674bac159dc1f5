package sqlbuild

import (
	"slices"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

// Insert renders an INSERT of row into t. Columns are emitted in table order
// and keys that are not columns of t are ignored. With RETURNING support the
// primary key of the new row is returned.
func (d *Dialect) Insert(t schema.Table, row map[string]any) (Query, error) {
	w := &writer{d: d}
	var cols, marks []string
	for _, c := range t.Columns {
		v, ok := row[c.Name]
		if !ok {
			continue
		}
		cols = append(cols, d.Quote(c.Name))
		marks = append(marks, w.bind(v))
	}

	w.sb.WriteString("INSERT INTO " + tableName(d, t))
	if len(cols) == 0 {
		if d == MySQL {
			w.sb.WriteString(" () VALUES ()")
		} else {
			w.sb.WriteString(" DEFAULT VALUES")
		}
	} else {
		w.sb.WriteString(" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")")
	}

	if d.Returning && len(t.PrimaryKeys) > 0 {
		keys := make([]string, len(t.PrimaryKeys))
		for i, k := range t.PrimaryKeys {
			keys[i] = d.Quote(k)
		}
		w.sb.WriteString(" RETURNING " + strings.Join(keys, ", "))
	}
	return Query{SQL: w.sb.String(), Args: w.args}, nil
}

// Update renders an UPDATE of the row identified by key.
func (d *Dialect) Update(t schema.Table, key, set map[string]any) (Query, error) {
	w := &writer{d: d}
	var sets []string
	for _, c := range t.Columns {
		v, ok := set[c.Name]
		if !ok || slices.Contains(t.PrimaryKeys, c.Name) {
			continue
		}
		sets = append(sets, d.Quote(c.Name)+" = "+w.bind(v))
	}
	if len(sets) == 0 {
		return Query{}, fault.New(fault.InvalidBody, "no writable fields to update")
	}

	w.sb.WriteString("UPDATE " + tableName(d, t) + " SET " + strings.Join(sets, ", "))
	if err := w.whereKey(t, key); err != nil {
		return Query{}, err
	}
	return Query{SQL: w.sb.String(), Args: w.args}, nil
}

// Delete renders a DELETE of the row identified by key.
func (d *Dialect) Delete(t schema.Table, key map[string]any) (Query, error) {
	w := &writer{d: d}
	w.sb.WriteString("DELETE FROM " + tableName(d, t))
	if err := w.whereKey(t, key); err != nil {
		return Query{}, err
	}
	return Query{SQL: w.sb.String(), Args: w.args}, nil
}

func (w *writer) whereKey(t schema.Table, key map[string]any) error {
	if len(t.PrimaryKeys) == 0 {
		return fault.New(fault.InvalidField, "table %q has no primary key", t.FullName())
	}
	conds := make([]string, len(t.PrimaryKeys))
	for i, k := range t.PrimaryKeys {
		v, ok := key[k]
		if !ok {
			return fault.New(fault.InvalidField, "missing primary key value").WithField(k)
		}
		conds[i] = w.d.Quote(k) + " = " + w.bind(v)
	}
	w.sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	return nil
}
