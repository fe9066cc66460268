// Package metrics exposes gateway instrumentation through a dedicated
// Prometheus registry.
//
// Components receive a *Metrics at construction and record through its
// nil-safe helpers or by using the exported collectors directly. The
// registry is served on the configured metrics path by the API server.
package metrics
