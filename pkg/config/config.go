// Package config loads the pgcrud configuration file with viper.
//
// Endpoint declarations decode straight into policy types. Mandatory filters
// may be written as "field||operator||value" triples or as JSON search trees,
// and sort entries as "field,ASC":
//
//	endpoints:
//	  - path: /companies
//	    table: public.companies
//	    query:
//	      exclude: [updatedAt]
//	      filter: ["id||ne||1"]
//	      sort: ["name,ASC"]
//	      maxLimit: 100
//	      join:
//	        - {path: projects, exclude: [budget]}
//	    auth:
//	      - {column: id, claim: .org.id}
//	    routes:
//	      exclude: [deleteOne]
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/edgeflare/pgcrud/pkg/condition"
	"github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/edgeflare/pgcrud/pkg/policy"
	"github.com/edgeflare/pgcrud/pkg/request"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

// Config holds application-wide configuration.
//
// Viper lowercases map keys, so everything keyed by names the database or an
// identity provider defines (join paths, relations, roles, users) is a list.
type Config struct {
	REST      RESTConfig       `mapstructure:"rest"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Tables    []schema.Table   `mapstructure:"tables"`
	Relations []RelationConfig `mapstructure:"relations"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`

	// File is the config file used, empty when none was found.
	File string `mapstructure:"-"`
}

type RESTConfig struct {
	ListenAddr string          `mapstructure:"listenAddr"`
	BaseURL    string          `mapstructure:"baseURL"`
	DB         DBConfig        `mapstructure:"db"`
	OIDC       OIDCConfig      `mapstructure:"oidc"`
	BasicAuth  []BasicAuthUser `mapstructure:"basicAuth"`
	CORS       []string        `mapstructure:"corsOrigins"`
	TLS        TLSConfig       `mapstructure:"tls"`
	// CacheTTL enables the query result cache for endpoints with query.cache
	// set.
	CacheTTL time.Duration `mapstructure:"cacheTTL"`
}

type DBConfig struct {
	// Driver is one of postgres, mysql, sqlite3, clickhouse.
	Driver      string        `mapstructure:"driver"`
	ConnString  string        `mapstructure:"connString"`
	Schemas     []string      `mapstructure:"schemas"`
	PingTimeout time.Duration `mapstructure:"pingTimeout"`
	// MaxConns sizes the PostgreSQL pool, or the open connections of other
	// drivers. Zero keeps the driver default.
	MaxConns int32 `mapstructure:"maxConns"`
}

type OIDCConfig struct {
	ClientID     string `mapstructure:"clientID"`
	ClientSecret string `mapstructure:"clientSecret"`
	Issuer       string `mapstructure:"issuer"`
}

// Enabled reports whether an issuer is configured.
func (c OIDCConfig) Enabled() bool {
	return c.Issuer != ""
}

type BasicAuthUser struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// BasicAuthCredentials returns the configured users as a username/password
// map.
func (c RESTConfig) BasicAuthCredentials() map[string]string {
	if len(c.BasicAuth) == 0 {
		return nil
	}
	creds := make(map[string]string, len(c.BasicAuth))
	for _, u := range c.BasicAuth {
		creds[u.User] = u.Password
	}
	return creds
}

type TLSConfig struct {
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

// Enabled reports whether both files are set.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// RelationConfig declares a relation of Table in addition to those derived
// from foreign keys.
type RelationConfig struct {
	Table           string `mapstructure:"table"`
	schema.Relation `mapstructure:",squash"`
}

// EndpointConfig declares one CRUD endpoint.
type EndpointConfig struct {
	Path   string        `mapstructure:"path"`
	Table  string        `mapstructure:"table"`
	Query  QueryConfig   `mapstructure:"query"`
	Routes policy.Routes `mapstructure:"routes"`
	Auth   []AuthConfig  `mapstructure:"auth"`
}

// QueryConfig mirrors policy.Options with joins as a list.
type QueryConfig struct {
	Allow   []string     `mapstructure:"allow"`
	Exclude []string     `mapstructure:"exclude"`
	Join    []JoinConfig `mapstructure:"join"`
	// Filter and Or entries are "field||operator||value" triples or JSON
	// search trees.
	Filter []condition.Node `mapstructure:"filter"`
	Or     []condition.Node `mapstructure:"or"`
	// Search is a JSON search tree.
	Search         condition.Node `mapstructure:"search"`
	Sort           []request.Sort `mapstructure:"sort"`
	Limit          int            `mapstructure:"limit"`
	MaxLimit       int            `mapstructure:"maxLimit"`
	Cache          int            `mapstructure:"cache"`
	AlwaysPaginate bool           `mapstructure:"alwaysPaginate"`
}

type JoinConfig struct {
	Path               string `mapstructure:"path"`
	policy.JoinOptions `mapstructure:",squash"`
}

// Options converts q to endpoint options.
func (q QueryConfig) Options() (policy.Options, error) {
	opts := policy.Options{
		Allow:          q.Allow,
		Exclude:        q.Exclude,
		Filter:         q.Filter,
		Or:             q.Or,
		Search:         q.Search,
		Sort:           q.Sort,
		Limit:          q.Limit,
		MaxLimit:       q.MaxLimit,
		Cache:          q.Cache,
		AlwaysPaginate: q.AlwaysPaginate,
	}
	if len(q.Join) > 0 {
		opts.Join = make(map[string]policy.JoinOptions, len(q.Join))
	}
	for _, j := range q.Join {
		if j.Path == "" {
			return policy.Options{}, errors.New("join: path is required")
		}
		if _, dup := opts.Join[j.Path]; dup {
			return policy.Options{}, fmt.Errorf("join %s: declared twice", j.Path)
		}
		opts.Join[j.Path] = j.JoinOptions
	}
	return opts, nil
}

// AuthConfig declares an authorization callback computed from the claims of
// the authenticated user. With Column set, rows are restricted to
// column = claim; with Scopes set, the claim names a role whose fields are
// visible.
type AuthConfig struct {
	Claim   string        `mapstructure:"claim"`
	Column  string        `mapstructure:"column"`
	Persist bool          `mapstructure:"persist"`
	Scopes  []ScopeConfig `mapstructure:"scopes"`
}

type ScopeConfig struct {
	Role   string   `mapstructure:"role"`
	Fields []string `mapstructure:"fields"`
}

func (a AuthConfig) authFunc() (policy.AuthFunc, error) {
	switch {
	case a.Claim == "":
		return nil, errors.New("auth: claim is required")
	case a.Column != "" && len(a.Scopes) > 0:
		return nil, errors.New("auth: column and scopes are exclusive")
	case a.Column != "":
		return middleware.ClaimFilter(a.Column, a.Claim, a.Persist), nil
	case len(a.Scopes) > 0:
		scopes := make(map[string][]string, len(a.Scopes))
		for _, s := range a.Scopes {
			scopes[s.Role] = s.Fields
		}
		return middleware.ClaimScope(a.Claim, scopes), nil
	default:
		return nil, fmt.Errorf("auth: claim %s needs a column or scopes", a.Claim)
	}
}

// Endpoint returns the policy declaration of e.
func (e EndpointConfig) Endpoint() (policy.Endpoint, error) {
	opts, err := e.Query.Options()
	if err != nil {
		return policy.Endpoint{}, fmt.Errorf("endpoint %s: %w", e.Path, err)
	}
	ep := policy.Endpoint{
		Table:  e.Table,
		Query:  opts,
		Routes: e.Routes,
	}
	for _, a := range e.Auth {
		fn, err := a.authFunc()
		if err != nil {
			return policy.Endpoint{}, fmt.Errorf("endpoint %s: %w", e.Path, err)
		}
		ep.Auth = append(ep.Auth, fn)
	}
	return ep, nil
}

// DeclaredRelations groups the declared relations by table.
func (c *Config) DeclaredRelations() map[string][]schema.Relation {
	if len(c.Relations) == 0 {
		return nil
	}
	out := make(map[string][]schema.Relation)
	for _, r := range c.Relations {
		out[r.Table] = append(out[r.Table], r.Relation)
	}
	return out
}

// Model returns the static tables declared in the config, with declared
// relations added.
func (c *Config) Model() schema.Tables {
	declared := c.DeclaredRelations()
	tables := make([]schema.Table, 0, len(c.Tables))
	for _, t := range c.Tables {
		t.Relations = append(t.Relations, declared[t.Name]...)
		if t.Schema != "" {
			t.Relations = append(t.Relations, declared[t.Schema+"."+t.Name]...)
		}
		tables = append(tables, t)
	}
	return schema.NewTables(tables...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rest.listenAddr", ":8080")
	v.SetDefault("rest.db.driver", "postgres")
	v.SetDefault("rest.db.connString", "")
	v.SetDefault("rest.db.pingTimeout", "30s")
	v.SetDefault("rest.cacheTTL", "0s")
	v.SetDefault("rest.oidc.issuer", "")
	v.SetDefault("rest.oidc.clientID", "")
	v.SetDefault("rest.oidc.clientSecret", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config from file or environment. Environment variables use the
// PGCRUD prefix with underscores for dots, e.g. PGCRUD_REST_DB_CONNSTRING.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgcrud")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PGCRUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// DecodeHook decodes condition trees, sort entries, routes and durations.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		conditionHook,
		sortHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

var (
	nodeType = reflect.TypeOf((*condition.Node)(nil)).Elem()
	sortType = reflect.TypeOf(request.Sort{})
)

// conditionHook accepts a "field||operator||value" triple or a JSON search
// tree. Trees written as YAML maps are rejected since their field names would
// arrive lowercased.
func conditionHook(from, to reflect.Type, data any) (any, error) {
	if to != nodeType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			return request.ParseSearch(s)
		}
		return request.ParseCondition(s)
	case map[string]any:
		return nil, errors.New("condition: write search trees as JSON strings")
	default:
		return data, nil
	}
}

func sortHook(from, to reflect.Type, data any) (any, error) {
	if to != sortType || from.Kind() != reflect.String {
		return data, nil
	}
	return request.ParseSort(data.(string))
}
