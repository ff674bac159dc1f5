// Package rest generates CRUD endpoints from declarative endpoint policies.
//
// Each registered endpoint exposes, unless excluded by its routes:
//
//	Route               | Handler
//	--------------------|---------------------------------------------
//	GET    /path        | getMany, list or paginated envelope
//	GET    /path/{id}   | getOne
//	POST   /path        | createOne
//	POST   /path/bulk   | createMany, body {"bulk": [...]}
//	PATCH  /path/{id}   | updateOne
//	PUT    /path/{id}   | replaceOne, creating the row when absent
//	DELETE /path/{id}   | deleteOne
//
// Read routes accept the query string grammar of package request:
//
//	Parameter                 | Description
//	--------------------------|------------------------------------------
//	?fields=id,name           | Select root fields
//	?filter=name||$cont||acme | AND-ed condition, repeatable
//	?or=id||$in||1,2          | OR-ed condition, repeatable
//	?s={"name":"acme"}        | JSON search tree
//	?join=company||name       | Join a declared relation
//	?sort=id,DESC             | Order, repeatable; nested fields allowed
//	?limit=10&page=2          | Pagination, offset= also accepted
//	?cache=0                  | Bypass the result cache
//
// Composite primary keys are addressed as {id} = "a,b" in key column order.
//
// HTTP headers control response format for DELETE:
//
//	Header                         | Description
//	-------------------------------|----------------------------------------
//	Prefer: return=representation  | Return the deleted row in the body
//
// Example usage:
//
//	x := execute.New(engine.NewPGX(pool))
//	s := rest.NewServer(cache, x, rest.WithLogger(logger))
//	if err := s.Register("/companies", policy.Endpoint{Table: "companies"}); err != nil {
//		log.Fatal(err)
//	}
//	log.Fatal(http.ListenAndServe(":8080", s.Handler()))
package rest
