// Package audio handles PCM accumulation and container encoding.
// It slices an incoming byte stream into fixed-duration chunks and wraps raw
// 16-bit mono PCM into WAV files for the transcription engine.
package audio
