// Package provider fetches quotes from third-party FX and crypto rate
// services over HTTP.
//
// Fetchers do no retrying of their own. Wrap them with [NewGuarded] so
// every call runs under the engine's external guard: per-provider budget,
// circuit breaker and retry with jittered backoff. Non-2xx responses are
// reported as *guard.HTTPStatusError so the guard can tell retryable
// statuses (429, 5xx) from fatal ones.
package provider
