// Package server exposes the HTTP API: model management, one-shot upload
// transcription, the streaming WebSocket endpoint, session and transcript
// monitoring, and Prometheus metrics.
package server
