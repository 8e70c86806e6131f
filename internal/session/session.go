package session

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/whisper-stream-service/internal/audio"
	"github.com/skypro1111/whisper-stream-service/internal/engine"
	"github.com/skypro1111/whisper-stream-service/internal/models"
)

const (
	// MinChunkBytes is the smallest chunk worth sending to the engine
	MinChunkBytes = 1000

	// MinFinalBytes is the smallest remainder worth sending to the engine
	MinFinalBytes = 100

	// UnknownLanguage is reported when the final result falls back to accumulated text
	UnknownLanguage = "unknown"
)

// Transcriber is the part of the model registry a session needs
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, modelID, language string) (*models.Result, error)
}

// Config contains session thresholds
type Config struct {
	MinChunkBytes int
	MinFinalBytes int
	TempDir       string // where temporary WAV files are written; "" uses os.TempDir
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		MinChunkBytes: MinChunkBytes,
		MinFinalBytes: MinFinalBytes,
	}
}

// ChunkStatus classifies what happened to one chunk
type ChunkStatus int

const (
	// ChunkSkipped means the chunk was too small and the engine was not called
	ChunkSkipped ChunkStatus = iota
	// ChunkTranscribed means a partial result was produced
	ChunkTranscribed
	// ChunkFailed means the engine or container step failed; the stream continues
	ChunkFailed
	// ChunkAborted means the context ended; the stream must stop
	ChunkAborted
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkSkipped:
		return "skipped"
	case ChunkTranscribed:
		return "transcribed"
	case ChunkFailed:
		return "failed"
	case ChunkAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Partial is a timed partial transcription of one chunk
type Partial struct {
	Text    string
	Start   float64
	End     float64
	ChunkID uint64
}

// ChunkOutcome is the result of ProcessChunk. Partial is set only for ChunkTranscribed.
type ChunkOutcome struct {
	Status  ChunkStatus
	Partial *Partial
	Err     error
}

// Terminal reports whether the caller should stop processing the stream
func (o ChunkOutcome) Terminal() bool {
	return o.Status == ChunkAborted
}

// FinalOutcome always carries a result. Fallback is set when the result was
// built from accumulated partial text; Err explains why, if an error caused it.
type FinalOutcome struct {
	Result   models.Result
	Fallback bool
	Err      error
}

// Session is the transcription state of a single streaming connection.
// Chunk processing is driven by one goroutine; the mutex only guards
// monitoring reads.
type Session struct {
	ID       string
	ModelID  string
	Language string
	Buffer   *audio.ChunkBuffer

	transcriber Transcriber
	config      Config
	logger      *slog.Logger
	startTime   time.Time

	mu              sync.Mutex
	accumulatedText string
	chunkCounter    uint64
	chunksAttempted uint64
	chunksFailed    uint64
	lastActivity    time.Time
}

// SessionInfo is a monitoring snapshot
type SessionInfo struct {
	ID              string            `json:"id"`
	Model           string            `json:"model"`
	Language        string            `json:"language"`
	StartTime       time.Time         `json:"start_time"`
	LastActivity    time.Time         `json:"last_activity"`
	Duration        float64           `json:"duration_seconds"`
	ChunkCounter    uint64            `json:"chunk_counter"`
	ChunksAttempted uint64            `json:"chunks_attempted"`
	ChunksFailed    uint64            `json:"chunks_failed"`
	TextLength      int               `json:"accumulated_text_length"`
	Buffer          audio.BufferStats `json:"buffer"`
}

// New creates a session with a fresh id
func New(modelID, language string, buffer *audio.ChunkBuffer, transcriber Transcriber, config Config, logger *slog.Logger) *Session {
	now := time.Now()
	id := uuid.NewString()

	return &Session{
		ID:           id,
		ModelID:      modelID,
		Language:     language,
		Buffer:       buffer,
		transcriber:  transcriber,
		config:       config,
		logger:       logger.With(slog.String("session_id", id)),
		startTime:    now,
		lastActivity: now,
	}
}

// ProcessChunk transcribes one released chunk. Failures never end the stream
// unless ctx is done.
func (s *Session) ProcessChunk(ctx context.Context, chunk []byte) ChunkOutcome {
	s.touch()

	if len(chunk) < s.config.MinChunkBytes {
		return ChunkOutcome{Status: ChunkSkipped}
	}

	s.mu.Lock()
	s.chunksAttempted++
	s.mu.Unlock()

	result, err := s.transcribePCM(ctx, chunk)
	if err != nil {
		if ctx.Err() != nil {
			return ChunkOutcome{Status: ChunkAborted, Err: err}
		}
		s.mu.Lock()
		s.chunksFailed++
		s.mu.Unlock()
		s.logger.Warn("Chunk processing failed",
			slog.Int("chunk_bytes", len(chunk)),
			slog.String("error", err.Error()),
		)
		return ChunkOutcome{Status: ChunkFailed, Err: err}
	}

	s.mu.Lock()
	s.chunkCounter++
	counter := s.chunkCounter
	s.mu.Unlock()

	duration := s.Buffer.ChunkDuration()
	partial := &Partial{
		Text:    result.Text,
		Start:   float64(counter) * duration,
		End:     float64(counter+1) * duration,
		ChunkID: counter,
	}

	s.logger.Debug("Chunk transcribed",
		slog.Uint64("chunk_id", counter),
		slog.Int("chunk_bytes", len(chunk)),
		slog.Int("text_length", len(partial.Text)),
	)

	return ChunkOutcome{Status: ChunkTranscribed, Partial: partial}
}

// ProcessFinal transcribes the remainder of the stream. It always returns a
// result, falling back to the accumulated partial text.
func (s *Session) ProcessFinal(ctx context.Context, remainder []byte) FinalOutcome {
	s.touch()

	if len(remainder) < s.config.MinFinalBytes {
		return s.fallback(nil)
	}

	result, err := s.transcribePCM(ctx, remainder)
	if err != nil {
		s.logger.Warn("Final processing failed",
			slog.Int("remainder_bytes", len(remainder)),
			slog.String("error", err.Error()),
		)
		return s.fallback(err)
	}

	return FinalOutcome{Result: *result}
}

func (s *Session) fallback(err error) FinalOutcome {
	return FinalOutcome{
		Result: models.Result{
			Text:      s.AccumulatedText(),
			Language:  UnknownLanguage,
			Segments:  []engine.Segment{},
			ModelUsed: s.ModelID,
		},
		Fallback: true,
		Err:      err,
	}
}

// transcribePCM wraps pcm in a temporary WAV file at the buffer's current rate
func (s *Session) transcribePCM(ctx context.Context, pcm []byte) (*models.Result, error) {
	path, err := audio.WriteTempWAV(s.config.TempDir, pcm, s.Buffer.SampleRate())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove temporary audio file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}()

	return s.transcriber.Transcribe(ctx, path, s.ModelID, s.Language)
}

// AddPartialText appends a space and the trimmed text. Blank text is ignored.
func (s *Session) AddPartialText(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulatedText += " " + trimmed
}

// AccumulatedText returns the concatenated partial text
func (s *Session) AccumulatedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulatedText
}

// ChunkCounter returns the number of partial results produced
func (s *Session) ChunkCounter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkCounter
}

// StartTime returns when the session was created
func (s *Session) StartTime() time.Time {
	return s.startTime
}

// Info returns a monitoring snapshot
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		ID:              s.ID,
		Model:           s.ModelID,
		Language:        s.Language,
		StartTime:       s.startTime,
		LastActivity:    s.lastActivity,
		Duration:        time.Since(s.startTime).Seconds(),
		ChunkCounter:    s.chunkCounter,
		ChunksAttempted: s.chunksAttempted,
		ChunksFailed:    s.chunksFailed,
		TextLength:      len(s.accumulatedText),
		Buffer:          s.Buffer.GetStats(),
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}
