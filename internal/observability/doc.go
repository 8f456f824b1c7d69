// Package observability provides the logging, metrics, and tracing used by
// every parrot component.
//
// Logging is structured slog output with secret redaction. Metrics are
// Prometheus collectors registered on a caller-supplied registry so tests
// can use an isolated one. Tracing exports OTLP spans when an endpoint is
// configured and is a no-op otherwise.
package observability
