package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_requests_total",
			Help: "Total number of CRUD requests by endpoint, operation and status code",
		},
		[]string{"endpoint", "operation", "status"},
	)

	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_query_errors_total",
			Help: "Total number of failed requests by endpoint and error kind",
		},
		[]string{"endpoint", "kind"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcrud_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "operation"},
	)
)

// ObserveQuery records the time elapsed since start.
func ObserveQuery(endpoint, operation string, start time.Time) {
	QueryDuration.WithLabelValues(endpoint, operation).Observe(time.Since(start).Seconds())
}

// PromServerOpts configures the metrics listener. Zero fields take the
// defaults: ":9100", "/metrics", 5s shutdown and 3s header timeouts.
type PromServerOpts struct {
	Addr              string
	Path              string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	Logger            *zap.Logger
}

func (o *PromServerOpts) withDefaults() PromServerOpts {
	var opts PromServerOpts
	if o != nil {
		opts = *o
	}
	opts.Addr = cmp.Or(opts.Addr, ":9100")
	opts.Path = cmp.Or(opts.Path, "/metrics")
	opts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, 5*time.Second)
	opts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, 3*time.Second)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}

// StartPrometheusServer serves the default registry in the background until
// ctx is canceled. wg is done once the listener has shut down.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	o := opts.withDefaults()

	mux := http.NewServeMux()
	mux.Handle(o.Path, promhttp.Handler())
	server := &http.Server{Addr: o.Addr, Handler: mux, ReadHeaderTimeout: o.ReadHeaderTimeout}

	stopped := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), o.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			o.Logger.Warn("metrics server shutdown", zap.Error(err))
		}
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.Logger.Info("starting metrics server", zap.String("addr", o.Addr), zap.String("path", o.Path))
		err := server.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			stopped()
			o.Logger.Error("metrics server", zap.Error(err))
			return
		}
		<-ctx.Done()
	}()
}
