package request

import (
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/fault"
)

// Builder assembles a request incrementally and encodes it as query
// parameters. Decode(b.Values()) yields the built request unless Err
// reports a condition that cannot be encoded.
//
//	q := request.NewBuilder().
//		SetFilter(condition.Leaf{Field: "isActive", Operator: condition.Eq, Value: true}).
//		SetJoin(request.Join{Field: "company", Select: []string{"name"}}).
//		SortBy(request.Sort{Field: "id", Order: request.Desc}).
//		SetLimit(10).
//		Query()
type Builder struct {
	p   Parsed
	err error
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Select narrows the returned fields.
func (b *Builder) Select(fields ...string) *Builder {
	b.p.Fields = append(b.p.Fields, fields...)
	return b
}

// SetFilter appends AND-ed conditions.
func (b *Builder) SetFilter(leaves ...condition.Leaf) *Builder {
	b.check(leaves)
	b.p.Filter = append(b.p.Filter, normalizeLeaves(leaves)...)
	return b
}

// SetOr appends conditions to the or group.
func (b *Builder) SetOr(leaves ...condition.Leaf) *Builder {
	b.check(leaves)
	b.p.Or = append(b.p.Or, normalizeLeaves(leaves)...)
	return b
}

// Err returns the first condition passed to SetFilter or SetOr that
// Encodable rejects.
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) check(leaves []condition.Leaf) {
	for _, l := range leaves {
		if b.err != nil {
			return
		}
		b.err = Encodable(l)
	}
}

func (b *Builder) SetJoin(joins ...Join) *Builder {
	b.p.Join = append(b.p.Join, joins...)
	return b
}

func (b *Builder) SortBy(sorts ...Sort) *Builder {
	b.p.Sort = append(b.p.Sort, sorts...)
	return b
}

// Search replaces the search tree.
func (b *Builder) Search(n condition.Node) *Builder {
	b.p.Search = n
	return b
}

func (b *Builder) SetLimit(n int) *Builder {
	b.p.Limit = intPtr(n)
	return b
}

func (b *Builder) SetOffset(n int) *Builder {
	b.p.Offset = intPtr(n)
	return b
}

func (b *Builder) SetPage(n int) *Builder {
	b.p.Page = intPtr(n)
	return b
}

// SetCache sets the cache flag; 0 bypasses cached results.
func (b *Builder) SetCache(n int) *Builder {
	b.p.Cache = intPtr(n)
	return b
}

// Parsed returns a copy of the built request.
func (b *Builder) Parsed() *Parsed {
	p := b.p
	return &p
}

// Values encodes the built request.
func (b *Builder) Values() url.Values {
	return Encode(&b.p)
}

// Query encodes the built request as a query string.
func (b *Builder) Query() string {
	return b.Values().Encode()
}

// Encode renders p as query parameters using canonical operator names.
// Filter and or conditions rejected by Encodable do not decode back to
// themselves.
func Encode(p *Parsed) url.Values {
	v := url.Values{}

	if len(p.Fields) > 0 {
		v.Set(ParamFields, strings.Join(p.Fields, DelimList))
	}
	if p.Search != nil {
		if s, err := MarshalSearch(p.Search); err == nil {
			v.Set(ParamSearch, s)
		}
	}
	for _, l := range p.Filter {
		v.Add(ParamFilter, FormatCondition(l))
	}
	for _, l := range p.Or {
		v.Add(ParamOr, FormatCondition(l))
	}
	for _, j := range p.Join {
		if len(j.Select) > 0 {
			v.Add(ParamJoin, j.Field+Delim+strings.Join(j.Select, DelimList))
		} else {
			v.Add(ParamJoin, j.Field)
		}
	}
	for _, s := range p.Sort {
		v.Add(ParamSort, s.Field+DelimList+string(s.Order))
	}

	setInt(v, ParamLimit, p.Limit)
	setInt(v, ParamOffset, p.Offset)
	setInt(v, ParamPage, p.Page)
	setInt(v, ParamCache, p.Cache)
	return v
}

// FormatCondition renders l as a "field||operator||value" triple.
func FormatCondition(l condition.Leaf) string {
	head := l.Field + Delim + string(l.Operator)
	if l.Operator.Arity() == condition.Nullary {
		return head
	}
	if values, ok := condition.Normalize(l.Value).([]any); ok {
		parts := make([]string, len(values))
		for i, e := range values {
			parts[i] = condition.FormatValue(e)
		}
		return head + Delim + strings.Join(parts, DelimList)
	}
	return head + Delim + condition.FormatValue(l.Value)
}

// Encodable reports whether l decodes back unchanged from FormatCondition.
// Strings that read back as another type ("42", "true", "1.5") are not
// encodable, nor are list items that are empty or contain a comma.
func Encodable(l condition.Leaf) error {
	l.Value = condition.Normalize(l.Value)
	if err := l.Validate(); err != nil {
		return err
	}
	if strings.Contains(l.Field, Delim) {
		return fault.New(fault.MalformedCondition, "field must not contain %q", Delim).WithField(l.Field)
	}

	switch l.Operator.Arity() {
	case condition.Scalar:
		return encodableValue(l, l.Value, false)
	case condition.List, condition.Pair:
		for _, v := range l.Value.([]any) {
			if err := encodableValue(l, v, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodableValue(l condition.Leaf, v any, item bool) error {
	s := condition.FormatValue(v)
	if item && (s == "" || strings.Contains(s, DelimList)) {
		return fault.New(fault.MalformedCondition, "list item %q cannot be encoded", s).
			WithField(l.Field).WithOperator(string(l.Operator))
	}
	if back := condition.ParseValue(s); !reflect.DeepEqual(back, v) {
		return fault.New(fault.MalformedCondition, "value %q reads back as %T", s, back).
			WithField(l.Field).WithOperator(string(l.Operator))
	}
	return nil
}

func setInt(v url.Values, key string, n *int) {
	if n != nil {
		v.Set(key, strconv.Itoa(*n))
	}
}

func normalizeLeaves(leaves []condition.Leaf) []condition.Leaf {
	out := make([]condition.Leaf, len(leaves))
	for i, l := range leaves {
		l.Value = condition.Normalize(l.Value)
		out[i] = l
	}
	return out
}
