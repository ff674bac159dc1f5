package request

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/fault"
)

// DecodeQuery parses a raw query string and decodes it.
func DecodeQuery(rawQuery string) (*Parsed, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fault.New(fault.MalformedParam, "invalid query string").WithOriginal(err)
	}
	return Decode(values)
}

// Decode converts query parameters into a Parsed request. Unknown keys are
// ignored. Repeated filter, or, join and sort parameters keep their order;
// the "[]"-suffixed spellings are accepted as well.
func Decode(values url.Values) (*Parsed, error) {
	p := &Parsed{}
	var err error

	if raw := lookup(values, ParamFields, ParamSelect); len(raw) > 0 {
		p.Fields = decodeFields(raw)
	}

	if raw := lookup(values, ParamSearch); len(raw) > 0 {
		if p.Search, err = ParseSearch(raw[0]); err != nil {
			return nil, err
		}
	}

	if p.Filter, err = decodeConditions(lookup(values, ParamFilter)); err != nil {
		return nil, err
	}
	if p.Or, err = decodeConditions(lookup(values, ParamOr)); err != nil {
		return nil, err
	}

	for _, raw := range lookup(values, ParamJoin) {
		j, err := ParseJoin(raw)
		if err != nil {
			return nil, err
		}
		p.Join = append(p.Join, j)
	}

	for _, raw := range lookup(values, ParamSort) {
		s, err := ParseSort(raw)
		if err != nil {
			return nil, err
		}
		p.Sort = append(p.Sort, s)
	}

	// limit=0 means no limit requested
	if p.Limit, err = decodeInt(values, 0, ParamLimit, ParamPerPage); err != nil {
		return nil, err
	}
	if p.Offset, err = decodeInt(values, 0, ParamOffset); err != nil {
		return nil, err
	}
	if p.Page, err = decodeInt(values, 1, ParamPage); err != nil {
		return nil, err
	}
	if p.Cache, err = decodeInt(values, 0, ParamCache); err != nil {
		return nil, err
	}

	return p, nil
}

// lookup returns the values of the first name present, trying "name" then
// "name[]" for each.
func lookup(values url.Values, names ...string) []string {
	for _, name := range names {
		if v, ok := values[name]; ok {
			return v
		}
		if v, ok := values[name+"[]"]; ok {
			return v
		}
	}
	return nil
}

func decodeFields(raw []string) []string {
	var fields []string
	for _, r := range raw {
		for f := range strings.SplitSeq(r, DelimList) {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

func decodeConditions(raw []string) ([]condition.Leaf, error) {
	var leaves []condition.Leaf
	for _, r := range raw {
		l, err := ParseCondition(r)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, l)
	}
	return leaves, nil
}

// ParseCondition decodes a "field||operator||value" triple. Array operators
// split the value on commas; null operators take no value.
func ParseCondition(raw string) (condition.Leaf, error) {
	parts := strings.SplitN(raw, Delim, 3)
	if len(parts) < 2 || parts[0] == "" {
		return condition.Leaf{}, fault.New(fault.MalformedCondition, "condition %q must be field||operator||value", raw)
	}

	field := parts[0]
	op, ok := condition.ParseOperator(parts[1])
	if !ok {
		return condition.Leaf{}, fault.New(fault.MalformedCondition, "unknown operator").
			WithField(field).WithOperator(parts[1])
	}

	leaf := condition.Leaf{Field: field, Operator: op}
	hasValue := len(parts) == 3

	switch op.Arity() {
	case condition.Nullary:
		if hasValue && parts[2] != "" {
			leaf.Value = parts[2]
		}
	case condition.List, condition.Pair:
		if hasValue {
			items := strings.Split(parts[2], DelimList)
			values := make([]any, 0, len(items))
			for _, item := range items {
				if item == "" {
					continue
				}
				values = append(values, condition.ParseValue(item))
			}
			leaf.Value = values
		}
	default:
		if hasValue {
			leaf.Value = condition.ParseValue(parts[2])
		}
	}

	if err := leaf.Validate(); err != nil {
		return condition.Leaf{}, err
	}
	return leaf, nil
}

// ParseJoin decodes a "relation||field1,field2" join entry.
func ParseJoin(raw string) (Join, error) {
	field, sel, hasSelect := strings.Cut(raw, Delim)
	field = strings.TrimSpace(field)
	if field == "" {
		return Join{}, fault.New(fault.MalformedParam, "join %q must name a relation", raw)
	}

	j := Join{Field: field}
	if hasSelect {
		j.Select = decodeFields([]string{sel})
	}
	return j, nil
}

// ParseSort decodes a "field,ASC|DESC" sort entry.
func ParseSort(raw string) (Sort, error) {
	field, order, ok := strings.Cut(raw, DelimList)
	field = strings.TrimSpace(field)
	if !ok || field == "" {
		return Sort{}, fault.New(fault.MalformedParam, "sort %q must be field,ASC|DESC", raw)
	}

	switch SortOrder(strings.ToUpper(strings.TrimSpace(order))) {
	case Asc:
		return Sort{Field: field, Order: Asc}, nil
	case Desc:
		return Sort{Field: field, Order: Desc}, nil
	default:
		return Sort{}, fault.New(fault.MalformedParam, "invalid sort order %q", order).WithField(field)
	}
}

func decodeInt(values url.Values, minimum int, names ...string) (*int, error) {
	raw := lookup(values, names...)
	if len(raw) == 0 {
		return nil, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(raw[0]))
	if err != nil {
		return nil, fault.New(fault.MalformedParam, "%s must be an integer", names[0]).WithOriginal(err)
	}
	if n < minimum {
		return nil, fault.New(fault.MalformedParam, "%s must be at least %d", names[0], minimum)
	}
	return intPtr(n), nil
}
