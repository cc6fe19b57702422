// Package prometheus renders fingate metrics in Prometheus text exposition
// format.
//
// [New] accepts any [Source], usually a *fingate.Engine, and [Exporter.Handler]
// serves the counters and the validation latency histogram. Counter names
// are fingate_*_total; the histogram is fingate_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
