package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/request"
)

var queryCmd = &cobra.Command{
	Use:   "query <url>",
	Short: "Send a request to a running pgcrud server",
	Long: `Builds the query string from flags, sends the request and prints the
response body. Server errors and timeouts are retried with backoff.`,
	Example: `  pgcrud query http://localhost:8080/companies --filter 'name||$starts||A' --join projects --sort id,DESC --limit 10
  pgcrud query http://localhost:8080/companies/3 -X PATCH -d '{"name": "Acme"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

// queryOptions are the query parameters of a request, in their query string
// spelling.
type queryOptions struct {
	Fields []string
	Filter []string
	Or     []string
	Join   []string
	Sort   []string
	Search string
	Limit  int
	Offset int
	Page   int
	// NoCache sends cache=0.
	NoCache bool
}

var queryOpts queryOptions

func init() {
	f := queryCmd.Flags()
	f.StringSliceVar(&queryOpts.Fields, "fields", nil, "fields to return")
	f.StringArrayVar(&queryOpts.Filter, "filter", nil, "filter condition field||operator||value, repeatable")
	f.StringArrayVar(&queryOpts.Or, "or", nil, "or condition field||operator||value, repeatable")
	f.StringArrayVar(&queryOpts.Join, "join", nil, "relation to join, optionally relation||field1,field2, repeatable")
	f.StringArrayVar(&queryOpts.Sort, "sort", nil, "sort field,ASC|DESC, repeatable")
	f.StringVarP(&queryOpts.Search, "search", "s", "", "JSON search condition")
	f.IntVar(&queryOpts.Limit, "limit", 0, "maximum number of entities")
	f.IntVar(&queryOpts.Offset, "offset", 0, "number of entities to skip")
	f.IntVar(&queryOpts.Page, "page", 0, "page number, starting at 1")
	f.BoolVar(&queryOpts.NoCache, "no-cache", false, "bypass cached results")

	f.StringP("request", "X", http.MethodGet, "HTTP method")
	f.StringP("data", "d", "", "JSON request body")
	f.StringArrayP("header", "H", nil, "extra header Name: value, repeatable")
	f.String("token", "", "bearer token")
	f.StringP("user", "u", "", "basic auth credentials user:password")
	f.Duration("timeout", 10*time.Second, "request timeout")
	f.Int("retries", 3, "retries on server errors")
}

func runQuery(cmd *cobra.Command, args []string) error {
	query, err := buildQuery(queryOpts)
	if err != nil {
		return err
	}
	target := args[0]
	if query != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query
	}

	f := cmd.Flags()
	method, _ := f.GetString("request")
	rc := httputil.DefaultRequestConfig(strings.ToUpper(method), target)
	rc.Logger = logger
	rc.Timeout, _ = f.GetDuration("timeout")
	rc.MaxRetries, _ = f.GetInt("retries")
	rc.RetryEnabled = rc.MaxRetries > 0
	if rc.Headers, err = requestHeaders(cmd); err != nil {
		return err
	}

	var payload any
	if data, _ := f.GetString("data"); data != "" {
		if !json.Valid([]byte(data)) {
			return errors.New("--data must be JSON")
		}
		payload = []byte(data)
	}

	logger.Debug("sending request", zap.String("method", rc.Method), zap.String("url", rc.URL))
	resp, err := httputil.Request(cmd.Context(), rc, payload)
	if resp != nil {
		printBody(cmd, resp.Body)
	}
	return err
}

// buildQuery encodes o with canonical operator names, rejecting malformed
// entries before anything is sent.
func buildQuery(o queryOptions) (string, error) {
	b := request.NewBuilder()
	if len(o.Fields) > 0 {
		b.Select(o.Fields...)
	}
	for _, raw := range o.Filter {
		leaf, err := request.ParseCondition(raw)
		if err != nil {
			return "", fmt.Errorf("--filter: %w", err)
		}
		b.SetFilter(leaf)
	}
	for _, raw := range o.Or {
		leaf, err := request.ParseCondition(raw)
		if err != nil {
			return "", fmt.Errorf("--or: %w", err)
		}
		b.SetOr(leaf)
	}
	for _, raw := range o.Join {
		j, err := request.ParseJoin(raw)
		if err != nil {
			return "", fmt.Errorf("--join: %w", err)
		}
		b.SetJoin(j)
	}
	for _, raw := range o.Sort {
		s, err := request.ParseSort(raw)
		if err != nil {
			return "", fmt.Errorf("--sort: %w", err)
		}
		b.SortBy(s)
	}
	if o.Search != "" {
		n, err := request.ParseSearch(o.Search)
		if err != nil {
			return "", fmt.Errorf("--search: %w", err)
		}
		b.Search(n)
	}
	if o.Limit > 0 {
		b.SetLimit(o.Limit)
	}
	if o.Offset > 0 {
		b.SetOffset(o.Offset)
	}
	if o.Page > 0 {
		b.SetPage(o.Page)
	}
	if o.NoCache {
		b.SetCache(0)
	}
	if err := b.Err(); err != nil {
		return "", err
	}
	return b.Query(), nil
}

func requestHeaders(cmd *cobra.Command) (http.Header, error) {
	f := cmd.Flags()
	h := http.Header{}
	h.Set("Accept", "application/json")

	raw, _ := f.GetStringArray("header")
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("--header %q must be Name: value", line)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	token, _ := f.GetString("token")
	user, _ := f.GetString("user")
	switch {
	case token != "" && user != "":
		return nil, errors.New("--token and --user are mutually exclusive")
	case token != "":
		h.Set("Authorization", "Bearer "+token)
	case user != "":
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user)))
	}
	return h, nil
}

// printBody writes JSON bodies indented and anything else as is.
func printBody(cmd *cobra.Command, body []byte) {
	out := cmd.OutOrStdout()
	if len(body) == 0 {
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		out.Write(body)
		return
	}
	buf.WriteByte('\n')
	out.Write(buf.Bytes())
}
