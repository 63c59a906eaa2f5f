package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mjhen/medstock/server/internal/httpx"
)

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrInvalidAuthorization = errors.New("invalid authorization header")
	ErrInvalidAPIKey        = errors.New("invalid api key")
)

type KeyVerifier interface {
	Verify(key string) bool
}

// BearerKey extracts the token from an "Authorization: Bearer <key>" header.
func BearerKey(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return "", ErrMissingAuthorization
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidAuthorization
	}
	return strings.TrimSpace(parts[1]), nil
}

// RequireAPIKey rejects requests without a valid bearer key. A nil verifier
// leaves the API open.
func RequireAPIKey(verifier KeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := BearerKey(r)
			if err == nil && !verifier.Verify(key) {
				err = ErrInvalidAPIKey
			}
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="stok"`)
				httpx.WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTLS rejects plain HTTP requests except /healthz. A request forwarded
// by a TLS terminator (X-Forwarded-Proto: https) counts as TLS.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/healthz" && !isTLSRequest(r) {
				httpx.WriteError(w, http.StatusUpgradeRequired, "tls is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isTLSRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

// NoSniff sets X-Content-Type-Options on every response.
func NoSniff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}
