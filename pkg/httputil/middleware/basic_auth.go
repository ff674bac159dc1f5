package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/httputil"
)

// BasicAuthConfig holds the username-password pairs for basic authentication.
type BasicAuthConfig struct {
	Credentials map[string]string
	// Realm is sent in WWW-Authenticate, "Restricted" when empty.
	Realm string
}

// BasicAuthCreds creates a BasicAuthConfig from username/password pairs.
func BasicAuthCreds(credentials map[string]string) *BasicAuthConfig {
	return &BasicAuthConfig{Credentials: credentials}
}

// VerifyBasicAuth rejects requests without valid basic auth credentials and
// stores the user name in the request context.
func VerifyBasicAuth(config *BasicAuthConfig) func(http.Handler) http.Handler {
	realm := config.Realm
	if realm == "" {
		realm = "Restricted"
	}
	challenge := `Basic realm="` + realm + `", charset="UTF-8"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", challenge)
				httputil.Error(w, http.StatusUnauthorized, "basic auth credentials required")
				return
			}

			want, known := config.Credentials[username]
			// compare even for unknown users so timing does not reveal them
			match := subtle.ConstantTimeCompare([]byte(want), []byte(password)) == 1
			if !known || !match {
				w.Header().Set("WWW-Authenticate", challenge)
				httputil.Error(w, http.StatusUnauthorized, "invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), httputil.BasicAuthCtxKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
