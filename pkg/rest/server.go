package rest

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/execute"
	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/plan"
	"github.com/edgeflare/pgcrud/pkg/policy"
	"github.com/edgeflare/pgcrud/pkg/request"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

// Server mounts CRUD endpoints on a router.
type Server struct {
	router *httputil.Router
	source schema.Source
	exec   *execute.Executor
	logger *zap.Logger
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRouter mounts endpoints on r instead of a new router.
func WithRouter(r *httputil.Router) Option {
	return func(s *Server) {
		s.router = r
	}
}

func NewServer(source schema.Source, exec *execute.Executor, opts ...Option) *Server {
	s := &Server{
		source: source,
		exec:   exec,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.router == nil {
		s.router = httputil.NewRouter()
	}
	return s
}

// Handler returns the router with its middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router.Handler()
}

// Router returns the router endpoints are mounted on.
func (s *Server) Router() *httputil.Router {
	return s.router
}

type endpoint struct {
	path string
	policy.Endpoint
}

// Register validates ep against the current model and mounts its enabled
// routes under path.
func (s *Server) Register(path string, ep policy.Endpoint) error {
	if err := ep.Validate(s.source.Snapshot()); err != nil {
		return fmt.Errorf("register %s: %w", path, err)
	}
	path = "/" + strings.Trim(path, "/")
	e := &endpoint{path: path, Endpoint: ep}

	routes := []struct {
		route   policy.Route
		pattern string
		handler http.HandlerFunc
	}{
		{policy.GetMany, "GET " + path, s.getMany(e)},
		{policy.GetOne, "GET " + path + "/{id}", s.getOne(e)},
		{policy.CreateOne, "POST " + path, s.createOne(e)},
		{policy.CreateMany, "POST " + path + "/bulk", s.createMany(e)},
		{policy.UpdateOne, "PATCH " + path + "/{id}", s.updateOne(e)},
		{policy.ReplaceOne, "PUT " + path + "/{id}", s.replaceOne(e)},
		{policy.DeleteOne, "DELETE " + path + "/{id}", s.deleteOne(e)},
	}
	var mounted []string
	for _, r := range routes {
		if !ep.Routes.Enabled(r.route) {
			continue
		}
		s.router.Handle(r.pattern, r.handler)
		mounted = append(mounted, string(r.route))
	}
	s.logger.Info("registered endpoint",
		zap.String("path", path),
		zap.String("table", ep.Table),
		zap.Strings("routes", mounted),
	)
	return nil
}

// scope is the resolved policy of one request.
type scope struct {
	tables schema.Tables
	table  schema.Table
	eff    *policy.Effective
	parsed *request.Parsed
}

// resolve looks up the endpoint table in the current model and runs the
// policy resolver, and with it the authorization callbacks, once.
func (s *Server) resolve(ctx context.Context, e *endpoint, p *request.Parsed) (*scope, error) {
	tables := s.source.Snapshot()
	table, ok := tables.Lookup(e.Table)
	if !ok {
		return nil, fault.Execution(fmt.Errorf("table %q not found", e.Table))
	}
	eff, err := policy.Resolve(ctx, &e.Endpoint, table, p)
	if err != nil {
		return nil, err
	}
	return &scope{tables: tables, table: table, eff: eff, parsed: p}, nil
}

func (sc *scope) many() (*plan.Plan, error) {
	return plan.Compile(sc.tables, sc.eff, sc.parsed)
}

// one compiles the read of a single row. The key is AND-ed like a mandatory
// filter, so it may name fields the request could not.
func (sc *scope) one(key map[string]any) (*plan.Plan, error) {
	eff := *sc.eff
	eff.Filter = slices.Clone(sc.eff.Filter)
	for _, k := range sc.table.PrimaryKeys {
		eff.Filter = append(eff.Filter, condition.Leaf{Field: k, Operator: condition.Eq, Value: key[k]})
	}
	eff.AlwaysPaginate = false
	return plan.Compile(sc.tables, &eff, sc.parsed)
}

// pathKey maps the {id} path value to the primary key. Composite keys are
// comma separated in key column order.
func pathKey(t schema.Table, raw string) (map[string]any, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != len(t.PrimaryKeys) {
		return nil, fault.New(fault.MalformedParam, "expected %d key values, got %d", len(t.PrimaryKeys), len(parts)).
			WithField(strings.Join(t.PrimaryKeys, ","))
	}
	key := make(map[string]any, len(parts))
	for i, k := range t.PrimaryKeys {
		key[k] = condition.ParseValue(parts[i])
	}
	return key, nil
}

// singleParsed decodes the query of a single-row route. Paging parameters
// are ignored.
func singleParsed(r *http.Request) (*request.Parsed, error) {
	p, err := request.Decode(r.URL.Query())
	if err != nil {
		return nil, err
	}
	p.Limit, p.Offset, p.Page = nil, nil, nil
	return p, nil
}

func (s *Server) respond(w http.ResponseWriter, e *endpoint, route policy.Route, status int, body any) {
	metrics.Requests.WithLabelValues(e.path, string(route), strconv.Itoa(status)).Inc()
	if body == nil {
		w.WriteHeader(status)
		return
	}
	httputil.JSON(w, status, body)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, e *endpoint, route policy.Route, err error) {
	status := fault.HTTPStatus(err)
	kind := fault.KindOf(err)
	metrics.Requests.WithLabelValues(e.path, string(route), strconv.Itoa(status)).Inc()
	metrics.QueryErrors.WithLabelValues(e.path, string(kind)).Inc()

	fields := []zap.Field{
		zap.String("endpoint", e.path),
		zap.String("route", string(route)),
		zap.String("kind", string(kind)),
		zap.Any("req_id", r.Context().Value(httputil.RequestIDCtxKey)),
		zap.Error(err),
	}
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
		message = http.StatusText(status)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	httputil.Error(w, status, message)
}
