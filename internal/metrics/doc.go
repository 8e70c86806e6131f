// Package metrics exposes Prometheus instrumentation for streams, chunks,
// model loads, transcriptions and the HTTP API.
package metrics
