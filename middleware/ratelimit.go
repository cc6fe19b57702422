package middleware

import (
	"net/http"

	"github.com/MrEthical07/fingate"
)

// KeyFunc derives the rate key for a request. An empty key skips the check.
type KeyFunc func(r *http.Request) string

// ByClientIP keys requests by the IP stored by [ClientContext].
func ByClientIP(r *http.Request) string {
	return fingate.ClientIPFromContext(r.Context())
}

// RateLimit consumes one slot of site's rule per request. Denied requests
// get 429 with a Retry-After header.
func RateLimit(engine *fingate.Engine, site fingate.CallSite, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ByClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if k := key(r); k != "" {
				if err := engine.CheckRate(r.Context(), site, k); err != nil {
					WriteError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
