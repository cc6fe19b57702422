// Package guard protects outbound calls to unreliable third-party providers.
//
// Every execution passes three gates in order: a per-provider request
// budget, a per-provider circuit breaker and a bounded retry loop with
// exponential, jittered backoff. Budget exhaustion and an open circuit fail
// fast with an [*UnavailableError] that wraps [ErrProviderUnavailable] and
// carries a retry-after hint; no network I/O is attempted in either case.
//
// Only retryable failures (transport errors, HTTP 429 and 5xx, or errors
// that report Retryable() == true) consume an attempt and back off. Any
// other failure ends the execution immediately. A successful execution
// closes the provider's circuit; an exhausted or fatal execution counts one
// failure toward opening it.
//
// Sleeping between attempts is interruptible through the caller's context.
// An attempt already in flight is not interrupted by the guard.
package guard
