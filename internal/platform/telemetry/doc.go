// Package telemetry groups the operational observability of codecollab.
//
// Tracing is configured by platform/otel and started from command entry
// points. Operational metrics live in telemetry/metrics and are scraped from
// the collab HTTP surface at /metrics.
//
// Chat content never enters telemetry: metrics carry counts and outcomes,
// spans carry room and project identifiers only.
package telemetry
