package request

import (
	"testing"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSearch(t *testing.T) {
	isActive := condition.Leaf{Field: "isActive", Operator: condition.Eq, Value: true}
	name1 := condition.Leaf{Field: "name", Operator: condition.Eq, Value: "Project1"}
	name2 := condition.Leaf{Field: "name", Operator: condition.Eq, Value: "Project2"}
	id1 := condition.Leaf{Field: "id", Operator: condition.Eq, Value: int64(1)}

	tests := []struct {
		name string
		raw  string
		want condition.Node
	}{
		{
			"canonical compound",
			`{"and":[{"field":"isActive","op":"eq","value":true},{"or":[{"field":"name","op":"eq","value":"Project1"},{"field":"name","op":"eq","value":"Project2"}]}]}`,
			condition.And{Nodes: []condition.Node{isActive, condition.Or{Nodes: []condition.Node{name1, name2}}}},
		},
		{
			"dollar groups and field map",
			`{"$and":[{"isActive":{"$eq":true}},{"$or":[{"name":{"$eq":"Project1"}},{"name":"Project2"}]}]}`,
			condition.And{Nodes: []condition.Node{isActive, condition.Or{Nodes: []condition.Node{name1, name2}}}},
		},
		{
			"field map shorthand",
			`{"id":{"$eq":1}}`,
			id1,
		},
		{
			"top level array",
			`[{"id":{"$eq":1}},{"name":{"$eq":"Project1"}}]`,
			condition.And{Nodes: []condition.Node{id1, name1}},
		},
		{
			"multi key field map sorted",
			`{"name":"Project1","id":1}`,
			condition.And{Nodes: []condition.Node{id1, name1}},
		},
		{
			"null and arrays",
			`{"companyId":null,"id":[6,10]}`,
			condition.And{Nodes: []condition.Node{
				condition.Leaf{Field: "companyId", Operator: condition.IsNull},
				condition.Leaf{Field: "id", Operator: condition.In, Value: []any{int64(6), int64(10)}},
			}},
		},
		{
			"operator or inside field",
			`{"name":{"$or":{"$startsL":"p","$isnull":true}}}`,
			condition.Or{Nodes: []condition.Node{
				condition.Leaf{Field: "name", Operator: condition.IsNull},
				condition.Leaf{Field: "name", Operator: condition.StartsFold, Value: "p"},
			}},
		},
		{
			"floats stay floats",
			`{"field":"price","operator":"between","value":[1.5,2.0]}`,
			condition.Leaf{Field: "price", Operator: condition.Between, Value: []any{1.5, 2.0}},
		},
		{"empty object", `{}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSearch(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarshalSearch(t *testing.T) {
	tree := condition.And{Nodes: []condition.Node{
		condition.Leaf{Field: "isActive", Operator: condition.Eq, Value: false},
		condition.Or{Nodes: []condition.Node{
			condition.Leaf{Field: "name", Operator: condition.Eq, Value: "Project1"},
			condition.Leaf{Field: "description", Operator: condition.NotNull},
			condition.Leaf{Field: "score", Operator: condition.Gt, Value: 2.0},
		}},
	}}

	raw, err := MarshalSearch(tree)
	require.NoError(t, err)
	assert.Equal(t,
		`{"and":[{"field":"isActive","operator":"eq","value":false},{"or":[{"field":"name","operator":"eq","value":"Project1"},{"field":"description","operator":"notnull"},{"field":"score","operator":"gt","value":2.0}]}]}`,
		raw)

	back, err := ParseSearch(raw)
	require.NoError(t, err)
	assert.Equal(t, tree, back)
}
