package httputil

import (
	"context"
	"net/http"
)

// HealthHandler responds 200 with the request id while ping succeeds and
// 503 otherwise. A nil ping always succeeds.
func HealthHandler(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := r.Context().Value(RequestIDCtxKey).(string)
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "requestId": requestID})
				return
			}
		}
		JSON(w, http.StatusOK, map[string]string{"status": "ok", "requestId": requestID})
	}
}
