// Package kv provides the keyed-state seam used by the limiter, lockout,
// OTP, revocation and reset-session components.
//
// # Design
//
// Every component talks to a [Store] through Get/Put/Compute/Remove. The
// in-process [Memory] implementation shards keys across mutex-guarded maps;
// Compute holds the key's shard lock for the whole read-decide-write cycle,
// which is what makes per-key state transitions atomic.
//
// Cross-key maintenance ([Sweep], [EvictLowest], [Trim]) is best effort: it scans a
// snapshot and re-checks each entry under its lock before removing it.
// [EvictLowest] and [Trim] cut down to [TrimTarget], so a store held at
// capacity scans once per max/10 inserts rather than on every insert.
//
// # What this package must NOT do
//
//   - Know about expiry, limits or any security policy.
//   - Start goroutines.
package kv
