package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r = r.WithContext(context.WithValue(r.Context(), RequestIDCtxKey, "req-1"))

	w := httptest.NewRecorder()
	HealthHandler(nil)(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","requestId":"req-1"}`, w.Body.String())

	w = httptest.NewRecorder()
	HealthHandler(func(context.Context) error { return errors.New("down") })(w, r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable","requestId":"req-1"}`, w.Body.String())
}
