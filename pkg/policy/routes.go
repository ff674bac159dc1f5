package policy

import "slices"

// Route names a generated handler.
type Route string

const (
	GetMany    Route = "getMany"
	GetOne     Route = "getOne"
	CreateOne  Route = "createOne"
	CreateMany Route = "createMany"
	UpdateOne  Route = "updateOne"
	ReplaceOne Route = "replaceOne"
	DeleteOne  Route = "deleteOne"
)

func AllRoutes() []Route {
	return []Route{GetMany, GetOne, CreateOne, CreateMany, UpdateOne, ReplaceOne, DeleteOne}
}

// Routes selects the handlers mounted for an endpoint. Only takes precedence
// over Exclude.
type Routes struct {
	Only    []Route `mapstructure:"only"`
	Exclude []Route `mapstructure:"exclude"`
	// ReturnDeleted responds to deleteOne with the deleted row.
	ReturnDeleted bool `mapstructure:"returnDeleted"`
}

// Enabled reports whether r is mounted.
func (r Routes) Enabled(route Route) bool {
	if len(r.Only) > 0 {
		return slices.Contains(r.Only, route)
	}
	return !slices.Contains(r.Exclude, route)
}
