package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/edgeflare/pgcrud/pkg/httputil"
)

const RequestIDHeader = "X-Request-Id"

// RequestID sets a request id on the context and the response header. An
// id already in the context or a valid UUID in the request header is kept.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, ok := r.Context().Value(httputil.RequestIDCtxKey).(string)
		if !ok || reqID == "" {
			if id, err := uuid.Parse(r.Header.Get(RequestIDHeader)); err == nil {
				reqID = id.String()
			} else {
				reqID = uuid.NewString()
			}
		}

		ctx := context.WithValue(r.Context(), httputil.RequestIDCtxKey, reqID)
		w.Header().Set(RequestIDHeader, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
