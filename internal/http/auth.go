package http

import (
	"crypto/subtle"
	nethttp "net/http"
	"strings"
)

const apiKeyHeader = "X-API-Key"

// requireAPIKey rejects requests whose x-api-key header does not match the shared secret.
func requireAPIKey(key string, next nethttp.Handler) nethttp.Handler {
	want := []byte(key)
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		got := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if got == "" {
			writeJSON(w, nethttp.StatusUnauthorized, map[string]any{
				"error": "missing x-api-key header",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			writeJSON(w, nethttp.StatusForbidden, map[string]any{
				"error": "forbidden",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
