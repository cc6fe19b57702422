package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/fingate"
)

type authResultContextKey struct{}

func AuthResultFromContext(ctx context.Context) (fingate.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(fingate.AuthResult)
	return res, ok
}

// ClientContext stores the request's remote IP and user agent in the
// request context. Put chi's RealIP (or an equivalent) in front of it when
// running behind a trusted proxy.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := fingate.WithClientIP(r.Context(), remoteIP(r.RemoteAddr))
		ctx = fingate.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Guard rejects requests without a valid bearer access token and stores
// the [fingate.AuthResult] in the request context.
func Guard(engine *fingate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, fingate.ErrTokenInvalid)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, fingate.ErrTokenInvalid)
				return
			}

			res, err := engine.Validate(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
