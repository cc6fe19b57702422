// Package audit buffers security events and relays them to a sink.
//
// # Components
//
//   - [Event]: timestamp, type, user, token id, client IP, outcome and metadata.
//   - [Sink]: consumer interface with channel, JSON-lines, slog and no-op
//     implementations.
//   - [Dispatcher]: single-goroutine relay with drop-if-full or
//     block-if-full buffering.
//
// The package does not decide which events exist; the engine flows do.
package audit
