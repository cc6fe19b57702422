// Package middleware adapts fingate.Engine to net/http.
//
// # Middleware
//
//   - [ClientContext] records the caller's IP and user agent for rate keys
//     and reset-session binding.
//   - [Guard] requires a valid bearer access token.
//   - [RateLimit] applies one call-site rule per request key.
//
// [WriteError] renders any engine error as a JSON body with the stable
// error kind, the matching status code and, for admission denials, a
// Retry-After header.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself: every decision is delegated to
// the Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Reveal why a credential was rejected beyond the error kind.
package middleware
