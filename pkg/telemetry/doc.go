// Package telemetry wires logging, metrics, and tracing for the arena.
// Logging is zerolog, metrics are Prometheus, traces are OpenTelemetry
// with a stdout exporter. Everything is configured from the environment.
package telemetry
