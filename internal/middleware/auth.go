package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/ltgvault/internal/auth"
	"github.com/dukerupert/ltgvault/internal/model"
)

const (
	APIKeyHeader     = "x-api-key"
	AdminTokenHeader = "x-admin-token"
)

// KeyResolver maps a presented API key to its account. Unknown and revoked
// keys both resolve to nil.
type KeyResolver interface {
	Resolve(secret string) (*model.Account, error)
}

// APIKey returns the trimmed x-api-key header value.
func APIKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// RequireAPIKey resolves the x-api-key header and populates AuthContext.
// Missing and invalid keys get a 401 JSON body.
func RequireAPIKey(keys KeyResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := APIKey(r)
			if secret == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Missing API key"})
				return
			}

			acct, err := keys.Resolve(secret)
			if err != nil {
				logger.Error("resolve api key", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error":   "STORE_ERROR",
					"message": "Could not verify API key",
				})
				return
			}
			if acct == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid API key"})
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{Account: acct})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminToken guards operator endpoints with a shared token. An empty
// token disables them entirely.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.NotFound(w, r)
				return
			}
			got := r.Header.Get(AdminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
