// Package telemetry provides tracing and metrics for gantry.
//
// Traces are exported over OTLP (gRPC or HTTP/protobuf) when enabled in the
// telemetry config section; otherwise the global no-op provider is kept and
// spans cost nothing. Metrics are Prometheus collectors on a dedicated
// registry served at /metrics:
//
//	gantry_policy_violations_total{rule}
//	gantry_build_attempts_total{outcome}
//	gantry_build_duration_seconds{outcome}
//	gantry_heal_attempts_total
//	gantry_missions_total{status}
//	gantry_missions_in_flight
//
// Telemetry failures never fail a mission; a broken exporter only marks the
// instance degraded.
package telemetry
