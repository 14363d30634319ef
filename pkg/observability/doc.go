// Package observability exposes Prometheus metrics and OpenTelemetry tracing
// for the Vellora conversation engine.
//
// Metrics are registered on a private registry so several instances can live
// in the same process (tests, embedded servers). Use Metrics.Hooks to observe
// controller transitions and Metrics.Handler to serve the exposition format.
package observability
