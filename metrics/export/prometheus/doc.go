// Package prometheus renders authcore engine metrics in the Prometheus text
// exposition format.
//
// [NewExporter] takes anything with MetricsSnapshot and AuditDropped (an
// *authcore.Engine in production) and exposes an [http.Handler]. Counter names
// are authcore_*_total; the single histogram is
// authcore_dispatch_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
