package rest

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/fault"
)

// decodeObject reads a JSON object body. Numbers become int64 or float64.
func decodeObject(r *http.Request) (map[string]any, error) {
	var body map[string]any
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fault.New(fault.InvalidBody, "body must be a JSON object")
	}
	return normalizeObject(body), nil
}

// decodeBulk reads {"bulk": [...]} and rejects an empty list.
func decodeBulk(r *http.Request) ([]map[string]any, error) {
	var body struct {
		Bulk []map[string]any `json:"bulk"`
	}
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	if len(body.Bulk) == 0 {
		return nil, fault.New(fault.InvalidBody, "empty bulk data")
	}
	for i, item := range body.Bulk {
		if item == nil {
			return nil, fault.New(fault.InvalidBody, "bulk item %d must be a JSON object", i)
		}
		body.Bulk[i] = normalizeObject(item)
	}
	return body.Bulk, nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fault.New(fault.InvalidBody, "invalid JSON body").WithOriginal(err)
	}
	return nil
}

func normalizeObject(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = jsonValue(v)
	}
	return m
}

func jsonValue(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		return normalizeObject(v)
	case []any:
		for i, e := range v {
			v[i] = jsonValue(e)
		}
		return v
	default:
		return v
	}
}

// writable keeps the body fields the request may write, maps nested to-one
// objects of joins with persist fields onto their foreign-key column, and
// applies the persisted values of the authorization grants last.
func (sc *scope) writable(body map[string]any) map[string]any {
	row := make(map[string]any, len(body))
	for k, v := range body {
		if sc.table.HasColumn(k) && sc.eff.Allowed(k) {
			row[k] = v
		}
	}

	for path, opts := range sc.eff.Joins {
		if len(opts.Persist) == 0 || strings.Contains(path, ".") {
			continue
		}
		nested, ok := body[path].(map[string]any)
		if !ok {
			continue
		}
		rel, ok := sc.table.Relation(path)
		if !ok || rel.Many || !slices.Contains(opts.Persist, rel.TargetColumn) {
			continue
		}
		if v, ok := nested[rel.TargetColumn]; ok {
			row[rel.LocalColumn] = v
		}
	}

	maps.Copy(row, sc.eff.Persist)
	return row
}
