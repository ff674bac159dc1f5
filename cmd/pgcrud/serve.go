package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/engine"
	"github.com/edgeflare/pgcrud/pkg/execute"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	mw "github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/rest"
	"github.com/edgeflare/pgcrud/pkg/schema"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Connects to the configured database and serves the configured endpoints`,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("listen", "l", "", "listen address, overrides rest.listenAddr")
	f.StringP("conn", "c", "", "database connection string, overrides rest.db.connString")
	f.String("driver", "", "database driver (postgres, mysql, sqlite3, clickhouse), overrides rest.db.driver")
}

func runServe(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	if v, _ := f.GetString("listen"); v != "" {
		cfg.REST.ListenAddr = v
	}
	if v, _ := f.GetString("conn"); v != "" {
		cfg.REST.DB.ConnString = v
	}
	if v, _ := f.GetString("driver"); v != "" {
		cfg.REST.DB.Driver = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("opening database", zap.Error(err))
		return err
	}
	defer be.close()

	var wg sync.WaitGroup
	if be.reloads != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchModel(ctx, be.reloads, logger)
		}()
	}
	if cfg.REST.CacheTTL > 0 {
		cached := engine.NewCached(be.engine, cfg.REST.CacheTTL)
		be.engine = cached
		wg.Add(1)
		go func() {
			defer wg.Done()
			cached.Run(ctx, cfg.REST.CacheTTL)
		}()
	}
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
			Logger: logger,
		})
	}

	router, err := newRouter(ctx, cfg, be, logger)
	if err != nil {
		logger.Error("creating server", zap.Error(err))
		stop()
		wg.Wait()
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := router.ListenAndServe(cfg.REST.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err = <-serveErr:
		logger.Error("server error", zap.Error(err))
		stop()
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err = router.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
	}

	wg.Wait()
	logger.Info("server stopped")
	return err
}

// newRouter builds the HTTP stack: request ids and CORS for everything, a
// health check, and authentication with access logging for the configured
// endpoints under rest.baseURL.
func newRouter(ctx context.Context, cfg *config.Config, be *backend, logger *zap.Logger) (*httputil.Router, error) {
	opts := []httputil.RouterOptions{httputil.WithLogger(logger)}
	if cfg.REST.TLS.Enabled() {
		opts = append(opts, httputil.WithTLS(cfg.REST.TLS.CertFile, cfg.REST.TLS.KeyFile))
	}
	router := httputil.NewRouter(opts...)

	router.Use(mw.RequestID)
	if len(cfg.REST.CORS) > 0 {
		router.Use(mw.CORSWithOptions(&mw.CORSOptions{
			AllowedOrigins:   cfg.REST.CORS,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "Prefer", "X-Request-Id"},
			AllowCredentials: true,
		}))
	} else {
		router.Use(mw.CORSWithOptions(nil))
	}

	router.Handle("GET /healthz", httputil.HealthHandler(be.ping))

	// endpoints are grouped so that health checks skip authentication
	api := router.Group(strings.TrimRight(cfg.REST.BaseURL, "/"))
	auth, err := authMiddleware(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for _, m := range auth {
		api.Use(m)
	}
	// after authentication so the access log carries the user
	api.Use(mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger}))

	srv := rest.NewServer(be.source, execute.New(be.engine, execute.WithLogger(logger)),
		rest.WithRouter(api),
		rest.WithLogger(logger),
	)
	for _, ec := range cfg.Endpoints {
		ep, err := ec.Endpoint()
		if err != nil {
			return nil, err
		}
		if err := srv.Register(ec.Path, ep); err != nil {
			return nil, err
		}
	}
	return router, nil
}

// authMiddleware authenticates requests with OIDC bearer tokens and basic
// auth. With only OIDC configured anonymous requests pass and endpoints
// with claim filters reject them. With basic auth configured every request
// not carrying a valid bearer token needs credentials.
func authMiddleware(ctx context.Context, cfg *config.Config) ([]httputil.Middleware, error) {
	var out []httputil.Middleware
	oidcEnabled := cfg.REST.OIDC.Enabled()
	if oidcEnabled {
		provider, err := mw.NewOIDCProvider(ctx, mw.OIDCProviderConfig{
			ClientID:     cfg.REST.OIDC.ClientID,
			ClientSecret: cfg.REST.OIDC.ClientSecret,
			Issuer:       cfg.REST.OIDC.Issuer,
		})
		if err != nil {
			return nil, fmt.Errorf("oidc: %w", err)
		}
		out = append(out, mw.VerifyOIDCToken(provider, false))
	}

	if creds := cfg.REST.BasicAuthCredentials(); len(creds) > 0 {
		basic := mw.VerifyBasicAuth(mw.BasicAuthCreds(creds))
		if oidcEnabled {
			basic = unlessOIDC(basic)
		}
		out = append(out, basic)
	}
	return out, nil
}

// unlessOIDC skips m for requests already authenticated with a token.
func unlessOIDC(m httputil.Middleware) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		checked := m(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := httputil.OIDCUser(r); ok {
				next.ServeHTTP(w, r)
				return
			}
			checked.ServeHTTP(w, r)
		})
	}
}

// watchModel logs model reloads until ctx is done.
func watchModel(ctx context.Context, reloads <-chan schema.Tables, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case tables, ok := <-reloads:
			if !ok {
				return
			}
			logger.Info("schema reloaded", zap.Int("tables", len(tables)))
		}
	}
}
