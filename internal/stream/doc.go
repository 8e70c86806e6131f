// Package stream drives streaming transcription connections.
// Protocol runs the per-connection state machine over a Transport;
// Manager tracks the live sessions for monitoring, capacity limits and
// idle cleanup.
package stream
