package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/newthinker/signalflow/internal/core"
)

// apiKeyAuth returns middleware that validates the X-API-Key header.
// An empty apiKey disables authentication.
func apiKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get("X-API-Key")
			if providedKey == "" {
				writeError(w, http.StatusUnauthorized, core.Errorf(core.ErrConfigMissing, "X-API-Key header required"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, core.Errorf(core.ErrConfigInvalid, "invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
