// Package stores holds the short-lived, security-sensitive records behind
// the authentication flows: one-time passcodes, password-reset sessions and
// the token revocation list.
//
// # Design
//
// Every store sits on an in-process [kv.Store] so that each per-key
// check-then-mutate runs atomically under that key's shard lock. Records
// are single-use: a matched passcode or a consumed reset session is gone
// for good, and a mismatch spends from a fixed attempt budget. Expired
// records are removed lazily on access and in bulk by Sweep. The passcode
// and reset-session stores take an optional capacity and evict the
// soonest-expiring records once it is exceeded. The revocation list never
// evicts a live entry: at capacity it refuses new ones. Secret comparisons
// of context hashes are constant-time.
//
// Revocation also has a Redis implementation sharing the [Revocations]
// interface, so several instances can share one revocation list.
//
// # Architecture boundaries
//
// This package owns storage and per-record concurrency. It does NOT issue
// tokens, enforce request rate limits or decide authentication outcomes.
// Those belong to the root package.
//
// # What this package must NOT do
//
//   - Import fingate or the public sub-packages.
//   - Store raw reset tokens or raw client context.
//   - Log or expose passcodes.
package stores
