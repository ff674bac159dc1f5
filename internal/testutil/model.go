package testutil

import (
	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/policy"
	"github.com/edgeflare/pgcrud/pkg/request"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

// Tables returns the companies/projects/users model used across tests.
// projects.companyId and users.companyId reference companies.id, giving the
// relations projects.company, users.company and companies.projects,
// companies.users.
func Tables() schema.Tables {
	return schema.NewTables(
		schema.Table{
			Schema:      "public",
			Name:        "companies",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", DataType: "integer"},
				{Name: "name", DataType: "character varying"},
				{Name: "domain", DataType: "character varying"},
				{Name: "description", DataType: "text", IsNullable: true},
				{Name: "createdAt", DataType: "timestamp with time zone"},
				{Name: "updatedAt", DataType: "timestamp with time zone"},
			},
		},
		schema.Table{
			Schema:      "public",
			Name:        "projects",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", DataType: "integer"},
				{Name: "name", DataType: "character varying"},
				{Name: "description", DataType: "text", IsNullable: true},
				{Name: "isActive", DataType: "boolean"},
				{Name: "companyId", DataType: "integer", IsNullable: true},
				{Name: "budget", DataType: "numeric", IsNullable: true},
			},
			ForeignKeys: []schema.ForeignKey{
				{Column: "companyId", ReferencedTable: "companies", ReferencedColumn: "id"},
			},
		},
		schema.Table{
			Schema:      "public",
			Name:        "users",
			PrimaryKeys: []string{"id"},
			Columns: []schema.Column{
				{Name: "id", DataType: "integer"},
				{Name: "email", DataType: "character varying"},
				{Name: "isActive", DataType: "boolean"},
				{Name: "companyId", DataType: "integer"},
			},
			ForeignKeys: []schema.ForeignKey{
				{Column: "companyId", ReferencedTable: "companies", ReferencedColumn: "id"},
			},
		},
	)
}

// CompaniesEndpoint declares the companies endpoint the scenario tests use:
// updatedAt is excluded, id=1 is never visible and limits are capped at 5.
func CompaniesEndpoint() policy.Endpoint {
	return policy.Endpoint{
		Table: "companies",
		Query: policy.Options{
			Exclude: []string{"updatedAt"},
			Join: map[string]policy.JoinOptions{
				"projects":         {},
				"users":            {Exclude: []string{"email"}},
				"projects.company": {Alias: "owner"},
			},
			Filter:   []condition.Node{condition.Leaf{Field: "id", Operator: condition.Ne, Value: int64(1)}},
			MaxLimit: 5,
		},
	}
}

// ProjectsEndpoint declares the projects endpoint with company and
// company.projects joins. A nested {"company": {"id": n}} is persisted on
// create.
func ProjectsEndpoint() policy.Endpoint {
	return policy.Endpoint{
		Table: "projects",
		Query: policy.Options{
			Join: map[string]policy.JoinOptions{
				"company":          {Exclude: []string{"description"}, Persist: []string{"id"}},
				"company.projects": {},
				"company.users":    {Allow: []string{"email"}},
			},
			Sort: []request.Sort{{Field: "id", Order: request.Asc}},
		},
	}
}
