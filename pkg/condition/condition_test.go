package condition

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperator(t *testing.T) {
	tests := []struct {
		in   string
		want Operator
		ok   bool
	}{
		{"eq", Eq, true},
		{"$eq", Eq, true},
		{"notin", NotIn, true},
		{"$notin", NotIn, true},
		{"cont*", ContFold, true},
		{"$contL", ContFold, true},
		{"startsL", StartsFold, true},
		{"$inL", InFold, true},
		{"between", Between, true},
		{"$isnull", IsNull, true},
		{"gtL", "", false},
		{"like", "", false},
		{"", "", false},
		{"EQ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseOperator(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperatorProperties(t *testing.T) {
	for _, op := range Operators() {
		assert.True(t, op.Valid(), op)
		assert.True(t, op.Base().Valid(), op)
		assert.Equal(t, strings.HasSuffix(string(op), "*"), op.CaseInsensitive(), op)
	}

	assert.Equal(t, List, In.Arity())
	assert.Equal(t, List, NotInFold.Arity())
	assert.Equal(t, Pair, Between.Arity())
	assert.Equal(t, Nullary, NotNull.Arity())
	assert.Equal(t, Scalar, EndsFold.Arity())
	assert.Equal(t, Starts, StartsFold.Base())
}

func TestLeafValidate(t *testing.T) {
	tests := []struct {
		name    string
		leaf    Leaf
		wantErr bool
	}{
		{"eq scalar", Leaf{"id", Eq, int64(1)}, false},
		{"eq string", Leaf{"name", Eq, "a"}, false},
		{"eq empty string", Leaf{"name", Eq, ""}, false},
		{"eq plain int", Leaf{"id", Eq, 3}, false},
		{"eq missing value", Leaf{"id", Eq, nil}, true},
		{"eq array", Leaf{"id", Eq, []any{int64(1)}}, true},
		{"in one", Leaf{"id", In, []any{int64(1)}}, false},
		{"in empty", Leaf{"id", In, []any{}}, true},
		{"in scalar", Leaf{"id", In, int64(1)}, true},
		{"in nil element", Leaf{"id", In, []any{nil}}, true},
		{"between two", Leaf{"id", Between, []any{int64(1), int64(5)}}, false},
		{"between three", Leaf{"id", Between, []any{int64(1), int64(2), int64(3)}}, true},
		{"between one", Leaf{"id", Between, []any{int64(1)}}, true},
		{"isnull", Leaf{"companyId", IsNull, nil}, false},
		{"isnull with value", Leaf{"companyId", IsNull, "x"}, true},
		{"unknown operator", Leaf{"id", Operator("like"), "x"}, true},
		{"empty field", Leaf{"", Eq, "x"}, true},
		{"object value", Leaf{"id", Eq, map[string]any{"a": 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.leaf.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, fault.ErrMalformedCondition))
		})
	}
}

func TestLeafValidateNamesFieldAndOperator(t *testing.T) {
	err := Leaf{"companyId", Between, []any{int64(1)}}.Validate()
	var f *fault.Error
	require.True(t, errors.As(err, &f))
	assert.Equal(t, "companyId", f.Field)
	assert.Equal(t, "between", f.Operator)
}

func TestValidateTree(t *testing.T) {
	ok := And{Nodes: []Node{
		Leaf{"isActive", Eq, true},
		Or{Nodes: []Node{Leaf{"name", Eq, "Project1"}, Leaf{"name", Eq, "Project2"}}},
	}}
	require.NoError(t, Validate(ok))

	err := Validate(And{Nodes: []Node{Leaf{"a", Eq, "x"}, Or{}}})
	assert.ErrorIs(t, err, fault.ErrMalformedCondition)

	err = Validate(Or{Nodes: []Node{Leaf{"a", In, []any{}}}})
	assert.ErrorIs(t, err, fault.ErrMalformedCondition)

	err = Validate(And{Nodes: []Node{nil}})
	assert.ErrorIs(t, err, fault.ErrMalformedCondition)
}

func TestFoldPreservesStructure(t *testing.T) {
	tree := And{Nodes: []Node{
		Leaf{"a", Eq, int64(1)},
		Or{Nodes: []Node{Leaf{"b", Eq, int64(2)}, And{Nodes: []Node{Leaf{"c", Gt, int64(3)}, Leaf{"d", IsNull, nil}}}}},
	}}

	render := Folder[string]{
		Leaf: func(l Leaf) (string, error) { return fmt.Sprintf("%s %s %v", l.Field, l.Operator, l.Value), nil },
		And:  func(c []string) (string, error) { return "(" + strings.Join(c, " AND ") + ")", nil },
		Or:   func(c []string) (string, error) { return "(" + strings.Join(c, " OR ") + ")", nil },
	}
	got, err := Fold[string](tree, render)
	require.NoError(t, err)
	assert.Equal(t, "(a eq 1 AND (b eq 2 OR (c gt 3 AND d isnull <nil>)))", got)

	boom := errors.New("boom")
	render.Leaf = func(l Leaf) (string, error) {
		if l.Field == "c" {
			return "", boom
		}
		return l.Field, nil
	}
	_, err = Fold[string](tree, render)
	assert.ErrorIs(t, err, boom)
}

func TestLeavesAndCombinators(t *testing.T) {
	a := Leaf{"a", Eq, int64(1)}
	b := Leaf{"b", Eq, int64(2)}
	c := Leaf{"c", Eq, int64(3)}

	assert.Nil(t, AllOf())
	assert.Nil(t, AnyOf(nil, nil))
	assert.Equal(t, a, AllOf(nil, a))
	assert.Equal(t, And{Nodes: []Node{a, Or{Nodes: []Node{b, c}}}}, AllOf(a, AnyOf(b, c)))

	assert.Equal(t, []Leaf{a, b, c}, Leaves(AllOf(a, AnyOf(b, c))))
	assert.Nil(t, Leaves(nil))
	assert.Equal(t, []Node{a, b}, LeafNodes([]Leaf{a, b}))
}

func TestParseAndFormatValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"true", true},
		{"false", false},
		{"1", int64(1)},
		{"-42", int64(-42)},
		{"007", "007"},
		{"1.5", 1.5},
		{"2.0", 2.0},
		{"Project1", "Project1"},
		{"", ""},
		{"a.b", "a.b"},
		{"0x10", "0x10"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseValue(tt.raw))
		})
	}

	for _, v := range []any{true, int64(10), -3.25, 2.0, "name", 1e21} {
		assert.Equal(t, v, ParseValue(FormatValue(v)), "%v", v)
	}
	assert.Equal(t, "5", FormatValue(5))
	assert.Equal(t, "", FormatValue(nil))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(3), Normalize(3))
	assert.Equal(t, int64(3), Normalize(uint8(3)))
	assert.Equal(t, float64(1.5), Normalize(float32(1.5)))
	assert.Equal(t, []any{"a", "b"}, Normalize([]string{"a", "b"}))
	assert.Equal(t, []any{int64(6), int64(10)}, Normalize([]int{6, 10}))
	assert.Nil(t, Normalize(nil))
}
