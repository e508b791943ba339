// Package telemetry wires Prometheus metrics and the OpenTelemetry tracer
// provider for polis-mam.
//
// Metrics count answered policy queries and snapshot reloads on a private
// registry; SetupProvider installs an OTLP/gRPC trace exporter so Rego URL
// evaluations and query API requests can be correlated.
package telemetry
