package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	// DefaultSampleRate is assumed until the client announces its real rate.
	DefaultSampleRate uint32 = 16000

	// DefaultChunkDuration is the length of a released chunk in seconds.
	DefaultChunkDuration = 2.0

	bytesPerSample = 2
)

// ErrBufferOverflow is returned by AddData when a configured cap would be exceeded.
var ErrBufferOverflow = errors.New("audio buffer capacity exceeded")

// BufferConfig configures a ChunkBuffer
type BufferConfig struct {
	SampleRate    uint32  // Hz
	ChunkDuration float64 // seconds
	MaxBytes      int     // 0 means unbounded
}

// ChunkBuffer accumulates raw 16-bit mono PCM and releases it in
// fixed-size chunks, oldest bytes first.
type ChunkBuffer struct {
	sampleRate     uint32
	chunkDuration  float64
	chunkSizeBytes int
	maxBytes       int

	pending []byte

	mu sync.Mutex
}

// BufferStats represents buffer state for monitoring
type BufferStats struct {
	SampleRate     uint32  `json:"sample_rate"`
	ChunkDuration  float64 `json:"chunk_duration_seconds"`
	ChunkSizeBytes int     `json:"chunk_size_bytes"`
	PendingBytes   int     `json:"pending_bytes"`
}

// NewChunkBuffer creates a buffer, falling back to defaults for zero values
func NewChunkBuffer(cfg BufferConfig) *ChunkBuffer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}

	b := &ChunkBuffer{
		sampleRate:    cfg.SampleRate,
		chunkDuration: cfg.ChunkDuration,
		maxBytes:      cfg.MaxBytes,
	}
	b.chunkSizeBytes = chunkSize(b.sampleRate, b.chunkDuration)
	b.pending = make([]byte, 0, b.chunkSizeBytes)

	return b
}

func chunkSize(sampleRate uint32, chunkDuration float64) int {
	return int(math.Round(float64(sampleRate)*chunkDuration)) * bytesPerSample
}

// AddData appends PCM bytes to the end of the buffer
func (b *ChunkBuffer) AddData(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxBytes > 0 && len(b.pending)+len(data) > b.maxBytes {
		return fmt.Errorf("%w: %d pending + %d incoming > %d",
			ErrBufferOverflow, len(b.pending), len(data), b.maxBytes)
	}

	b.pending = append(b.pending, data...)
	return nil
}

// UpdateSampleRate recomputes the chunk size for a new rate.
// Buffered bytes are kept as they are.
func (b *ChunkBuffer) UpdateSampleRate(sampleRate uint32) {
	if sampleRate == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sampleRate == b.sampleRate {
		return
	}
	b.sampleRate = sampleRate
	b.chunkSizeBytes = chunkSize(sampleRate, b.chunkDuration)
}

// ChunkIfReady removes and returns exactly one chunk when enough bytes are buffered
func (b *ChunkBuffer) ChunkIfReady() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.chunkSizeBytes <= 0 || len(b.pending) < b.chunkSizeBytes {
		return nil, false
	}

	chunk := make([]byte, b.chunkSizeBytes)
	copy(chunk, b.pending[:b.chunkSizeBytes])
	b.pending = append(b.pending[:0], b.pending[b.chunkSizeBytes:]...)

	return chunk, true
}

// DrainRemainder returns everything still buffered and empties the buffer
func (b *ChunkBuffer) DrainRemainder() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	remainder := make([]byte, len(b.pending))
	copy(remainder, b.pending)
	b.pending = b.pending[:0]

	return remainder
}

// SampleRate returns the current sample rate in Hz
func (b *ChunkBuffer) SampleRate() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampleRate
}

// ChunkDuration returns the chunk duration in seconds
func (b *ChunkBuffer) ChunkDuration() float64 {
	return b.chunkDuration
}

// ChunkSizeBytes returns the current chunk size in bytes
func (b *ChunkBuffer) ChunkSizeBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunkSizeBytes
}

// Len returns the number of pending bytes
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// GetStats returns a snapshot of the buffer state
func (b *ChunkBuffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		SampleRate:     b.sampleRate,
		ChunkDuration:  b.chunkDuration,
		ChunkSizeBytes: b.chunkSizeBytes,
		PendingBytes:   len(b.pending),
	}
}
