package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/respond"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

const (
	ServiceTokenHeader = "X-Service-Token"
	tokenQueryParam    = "token"
)

// Auth is a middleware factory that requires a valid bearer token and
// attaches the verified identity to the request context.
func Auth(verifier domain.IdentityVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				logger.Warn("token missing from request", "remote_addr", r.RemoteAddr)
				respond.Error(w, http.StatusUnauthorized, "missing_token", "")
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("invalid token provided", "remote_addr", r.RemoteAddr, "error", err)
				respond.Error(w, http.StatusUnauthorized, "invalid_token", "")
				return
			}

			next.ServeHTTP(w, r.WithContext(domain.ContextWithIdentity(r.Context(), id)))
		})
	}
}

// OptionalAuth attaches an identity when a token is presented in the
// Authorization header or the token query parameter. Requests without a
// token pass through anonymously; a token that fails verification is rejected.
func OptionalAuth(verifier domain.IdentityVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				token = r.URL.Query().Get(tokenQueryParam)
			}
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("invalid token provided", "remote_addr", r.RemoteAddr, "error", err)
				respond.Error(w, http.StatusUnauthorized, "invalid_token", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(domain.ContextWithIdentity(r.Context(), id)))
		})
	}
}

// ServiceToken guards internal endpoints with a shared secret in the
// X-Service-Token header. An empty expected token rejects every request.
func ServiceToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ServiceTokenHeader)
			if got == "" {
				respond.Error(w, http.StatusUnauthorized, "missing_token", "")
				return
			}
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				logger.Warn("invalid service token provided", "remote_addr", r.RemoteAddr)
				respond.Error(w, http.StatusUnauthorized, "invalid_token", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
