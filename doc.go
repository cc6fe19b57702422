// Package fingate is the security core of a personal-finance backend: JWT
// access, refresh and reset-session tokens with revocation, fixed-window
// rate limits per call site, progressive login lockout, one-time passcodes,
// context-bound password reset sessions, and a retry and circuit-breaking
// guard for calls to external quote providers.
//
// All state lives in process, is bounded, and expires lazily on access.
// [Engine] methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// fingate is the public surface. It exposes [Engine], [Builder], [Config],
// the caller-supplied interfaces ([UserProvider], [SessionRegistry],
// [Mailer]) and value types. Limiters, stores and the audit dispatcher live
// under internal/ and are never exported.
//
// # Error contract
//
// Every rejection maps to a stable [ErrorKind] through [KindOf], and
// admission denials carry a retry hint readable with [RetryAfterSeconds].
// Invalid credential material collapses to one error per operation:
// [ErrTokenInvalid], [ErrOTPInvalid] or [ErrResetInvalid].
//
// # What this package must NOT do
//
//   - Store raw identifiers, IP addresses or user agents as keys or values.
//   - Start background goroutines other than the audit dispatcher.
//   - Import any sub-package that re-imports fingate.
package fingate
