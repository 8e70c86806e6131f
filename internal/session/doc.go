// Package session holds the per-connection transcription state: chunk
// counting, partial result timing, accumulated text and the final fallback.
package session
