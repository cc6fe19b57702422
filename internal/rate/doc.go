// Package rate provides the in-process fixed-window counter shared by every
// inbound call site (login, OTP, password reset, registration, public rate
// endpoints) and by the outbound provider budget.
//
// # Window semantics
//
// A bucket holds {windowStart, window, count}. A request is admitted while
// count < limit. The first request at or after windowStart+window replaces
// the bucket with a fresh one starting at that request. There is no timer.
//
// # What this package must NOT do
//
//   - Implement call-site policies (those live in internal/limiters).
//   - Grow without bound: buckets beyond MaxKeys are evicted oldest window first.
package rate
