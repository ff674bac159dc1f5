package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func header(name, value string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Add(name, value)
			next.ServeHTTP(w, req)
		})
	}
}

func TestRouterHandle(t *testing.T) {
	r := NewRouter()
	r.Handle("GET /test", http.HandlerFunc(ok))

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/test", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouterInvalidPattern(t *testing.T) {
	assert.Panics(t, func() {
		NewRouter().Handle("/test", http.HandlerFunc(ok))
	})
}

func TestRouterMiddleware(t *testing.T) {
	r := NewRouter()
	r.Use(header("X-Test", "root"))
	r.Handle("GET /test", http.HandlerFunc(ok))

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, []string{"root"}, w.Header().Values("X-Test"))

	// root middleware also wraps unmatched requests
	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "root", w.Header().Get("X-Test"))
}

func TestRouterGroup(t *testing.T) {
	r := NewRouter()
	r.Use(header("X-Test", "root"))
	api := r.Group("/api")
	api.Use(header("X-Test", "api"))
	api.Handle("GET /v1/test", http.HandlerFunc(ok))
	v2 := api.Group("/v2")
	v2.Handle("GET /test", http.HandlerFunc(ok))

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"root", "api"}, w.Header().Values("X-Test"))

	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"root", "api"}, w.Header().Values("X-Test"))
}

func TestRouterListenAndServe(t *testing.T) {
	r := NewRouter()
	r.Handle("GET /test", http.HandlerFunc(ok))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := r.ListenAndServe("127.0.0.1:18081")
		assert.True(t, errors.Is(err, http.ErrServerClosed), "unexpected error %v", err)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18081/test")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, r.Shutdown(context.Background()))
	wg.Wait()
}

func BenchmarkRouterHandle(b *testing.B) {
	r := NewRouter()
	for i := 0; i < b.N; i++ {
		r.Handle(fmt.Sprintf("GET /test%d", i), http.HandlerFunc(ok))
	}
}

func BenchmarkRouterServeHTTP(b *testing.B) {
	r := NewRouter()
	r.Use(header("X-Test", "root"))
	r.Handle("GET /test", http.HandlerFunc(ok))
	h := r.Handler()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			h.ServeHTTP(httptest.NewRecorder(), req)
		}
	})
}
