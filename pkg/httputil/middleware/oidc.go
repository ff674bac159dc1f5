package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zitadel/oidc/v3/pkg/client/rs"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.uber.org/zap"

	"github.com/edgeflare/pgcrud/pkg/httputil"
)

// OIDCProviderConfig holds the configuration for the OIDC provider
type OIDCProviderConfig struct {
	ClientID     string `json:"client_id" mapstructure:"clientID"`
	ClientSecret string `json:"client_secret" mapstructure:"clientSecret"`
	Issuer       string `json:"issuer" mapstructure:"issuer"`
}

// NewOIDCProvider creates a resource server that introspects tokens with
// client credentials. Endpoints are discovered from the issuer unless set
// with rs.WithStaticEndpoints.
func NewOIDCProvider(ctx context.Context, cfg OIDCProviderConfig, opts ...rs.Option) (rs.ResourceServer, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.Issuer == "" {
		return nil, errors.New("missing required OIDC configuration")
	}
	provider, err := rs.NewResourceServerClientCredentials(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OIDC resource server: %w", err)
	}
	return provider, nil
}

// VerifyOIDCToken is middleware that introspects bearer tokens and stores
// the active user in the request context.
// By default, it sends a 401 Unauthorized response if the token is missing or invalid.
// If send401Unauthorized is false, it allows requests with other authorization schemes
// (e.g., Basic Auth) to continue without interference.
func VerifyOIDCToken(provider rs.ResourceServer, send401Unauthorized ...bool) func(http.Handler) http.Handler {
	send401 := true
	if len(send401Unauthorized) > 0 {
		send401 = send401Unauthorized[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			if authHeader == "" {
				if send401 {
					http.Error(w, "Authorization header missing", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Check for "Bearer" token (case-insensitive)
			if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if send401 {
					http.Error(w, "Invalid token format", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			tokenString := strings.TrimSpace(authHeader[len("bearer "):])

			user, err := rs.Introspect[*oidc.IntrospectionResponse](r.Context(), provider, tokenString)
			if err != nil || user == nil || !user.Active {
				LogEntry(r.Context()).Debug("token rejected", zap.Error(err))
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), httputil.OIDCUserCtxKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
