// Package telemetry bootstraps the OpenTelemetry SDK for the pipeline.
// When telemetry is disabled the global providers stay noop and no
// exporter connects anywhere.
package telemetry
