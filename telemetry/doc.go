// Package telemetry builds the observability stack of the host: the zap
// logger, Prometheus collectors fed by the router and registry, and the
// OpenTelemetry tracer used for routed operation spans.
package telemetry
