// Package limiters provides the admission policies layered over the shared
// fixed-window limiter, plus the identity-scoped login lockout.
//
// # Architecture boundaries
//
// Rate limiting ([Policy]) is scoped by call site and IP or hashed identity;
// lockout ([Lockout]) is scoped by hashed identity only. The engine checks
// both independently: rate first, lockout once the identity is known and
// before any credential comparison.
//
// # What this package must NOT do
//
//   - See raw identifiers. Callers pass pre-hashed keys.
//   - Make authentication decisions.
package limiters
