// Package internal contains helper utilities that are intentionally private to fingate,
// including secure random generation, identity key derivation and context binding hashes.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - kv: keyed-state seam and the sharded in-memory store
//   - limiters: call-site rate policies and login lockout
//   - rate: fixed-window limiter primitive
//   - stores: OTP vault, reset sessions, token revocation
//
// # What this package must NOT do
//
//   - Export types that appear in the public fingate API.
//   - Be imported by any package outside the fingate module.
package internal
