package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/whisper-stream-service/internal/audio"
	"github.com/skypro1111/whisper-stream-service/internal/engine"
	"github.com/skypro1111/whisper-stream-service/internal/models"
)

type call struct {
	path       string
	model      string
	language   string
	sampleRate uint32
	dataSize   uint32
}

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   []call
	results []*models.Result
	err     error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, modelID, language string) (*models.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := call{path: audioPath, model: modelID, language: language}
	if data, err := os.ReadFile(audioPath); err == nil {
		if info, err := audio.GetWAVInfo(data); err == nil {
			c.sampleRate = info.SampleRate
			c.dataSize = info.DataSize
		}
	}
	f.calls = append(f.calls, c)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return &models.Result{Text: "default", Language: "ja", Segments: []engine.Segment{}, ModelUsed: modelID}, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSession(t *testing.T, tr Transcriber) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()
	return New("base", "ja", audio.NewChunkBuffer(audio.BufferConfig{}), tr, cfg, testLogger())
}

func TestNewSession(t *testing.T) {
	s := newTestSession(t, &fakeTranscriber{})

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "base", s.ModelID)
	assert.Equal(t, "ja", s.Language)
	assert.Equal(t, uint64(0), s.ChunkCounter())
	assert.Equal(t, "", s.AccumulatedText())

	other := newTestSession(t, &fakeTranscriber{})
	assert.NotEqual(t, s.ID, other.ID)
}

func TestProcessChunkTooSmall(t *testing.T) {
	tr := &fakeTranscriber{}
	s := newTestSession(t, tr)

	outcome := s.ProcessChunk(context.Background(), make([]byte, 999))

	assert.Equal(t, ChunkSkipped, outcome.Status)
	assert.Nil(t, outcome.Partial)
	assert.False(t, outcome.Terminal())
	assert.Equal(t, 0, tr.callCount())
	assert.Equal(t, uint64(0), s.ChunkCounter())
}

func TestProcessChunkTiming(t *testing.T) {
	tr := &fakeTranscriber{results: []*models.Result{
		{Text: "こんにちは"},
		{Text: "世界"},
	}}
	s := newTestSession(t, tr)

	first := s.ProcessChunk(context.Background(), make([]byte, 64000))
	require.Equal(t, ChunkTranscribed, first.Status)
	assert.Equal(t, &Partial{Text: "こんにちは", Start: 2.0, End: 4.0, ChunkID: 1}, first.Partial)

	second := s.ProcessChunk(context.Background(), make([]byte, 64000))
	require.Equal(t, ChunkTranscribed, second.Status)
	assert.Equal(t, &Partial{Text: "世界", Start: 4.0, End: 6.0, ChunkID: 2}, second.Partial)

	assert.Equal(t, uint64(2), s.ChunkCounter())
}

func TestProcessChunkWritesWAVAndCleansUp(t *testing.T) {
	tr := &fakeTranscriber{}
	s := newTestSession(t, tr)
	s.Buffer.UpdateSampleRate(8000)

	outcome := s.ProcessChunk(context.Background(), make([]byte, 32000))
	require.Equal(t, ChunkTranscribed, outcome.Status)

	require.Equal(t, 1, tr.callCount())
	c := tr.calls[0]
	assert.Equal(t, "base", c.model)
	assert.Equal(t, "ja", c.language)
	assert.Equal(t, uint32(8000), c.sampleRate)
	assert.Equal(t, uint32(32000), c.dataSize)

	_, err := os.Stat(c.path)
	assert.True(t, os.IsNotExist(err), "temporary WAV must be removed")
}

func TestProcessChunkFailureIsNotFatal(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("engine down")}
	s := newTestSession(t, tr)

	outcome := s.ProcessChunk(context.Background(), make([]byte, 64000))
	assert.Equal(t, ChunkFailed, outcome.Status)
	assert.Nil(t, outcome.Partial)
	assert.Error(t, outcome.Err)
	assert.False(t, outcome.Terminal())
	assert.Equal(t, uint64(0), s.ChunkCounter())

	tr.err = nil
	outcome = s.ProcessChunk(context.Background(), make([]byte, 64000))
	require.Equal(t, ChunkTranscribed, outcome.Status)
	assert.Equal(t, uint64(1), outcome.Partial.ChunkID, "failed chunks do not advance the counter")

	info := s.Info()
	assert.Equal(t, uint64(2), info.ChunksAttempted)
	assert.Equal(t, uint64(1), info.ChunksFailed)
}

func TestProcessChunkAborted(t *testing.T) {
	tr := &fakeTranscriber{}
	s := newTestSession(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := s.ProcessChunk(ctx, make([]byte, 64000))
	assert.Equal(t, ChunkAborted, outcome.Status)
	assert.True(t, outcome.Terminal())
	assert.ErrorIs(t, outcome.Err, context.Canceled)
}

func TestProcessChunkTempDirFailure(t *testing.T) {
	tr := &fakeTranscriber{}
	cfg := DefaultConfig()
	cfg.TempDir = "/nonexistent/temp/dir"
	s := New("base", "ja", audio.NewChunkBuffer(audio.BufferConfig{}), tr, cfg, testLogger())

	outcome := s.ProcessChunk(context.Background(), make([]byte, 64000))
	assert.Equal(t, ChunkFailed, outcome.Status)

	var procErr *audio.ProcessingError
	assert.ErrorAs(t, outcome.Err, &procErr)
	assert.Equal(t, 0, tr.callCount())
}

func TestAddPartialText(t *testing.T) {
	s := newTestSession(t, &fakeTranscriber{})

	s.AddPartialText("  hello ")
	s.AddPartialText("   ")
	s.AddPartialText("")
	s.AddPartialText("world")

	assert.Equal(t, " hello world", s.AccumulatedText())
}

func TestProcessFinalTooSmall(t *testing.T) {
	tr := &fakeTranscriber{}
	s := newTestSession(t, tr)
	s.AddPartialText("a")
	s.AddPartialText("b")

	outcome := s.ProcessFinal(context.Background(), make([]byte, 99))

	assert.True(t, outcome.Fallback)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, models.Result{Text: " a b", Language: "unknown", Segments: []engine.Segment{}, ModelUsed: "base"}, outcome.Result)
	assert.Equal(t, 0, tr.callCount())
}

func TestProcessFinalEmptyStream(t *testing.T) {
	s := newTestSession(t, &fakeTranscriber{})

	outcome := s.ProcessFinal(context.Background(), nil)

	assert.True(t, outcome.Fallback)
	assert.Equal(t, "", outcome.Result.Text)
	assert.Equal(t, "unknown", outcome.Result.Language)
	assert.NotNil(t, outcome.Result.Segments)
}

func TestProcessFinalVerbatim(t *testing.T) {
	engineResult := &models.Result{
		Text:      "final text",
		Language:  "ja",
		Segments:  []engine.Segment{{ID: 0, Start: 0, End: 0.5, Text: "final text"}},
		ModelUsed: "base",
	}
	tr := &fakeTranscriber{results: []*models.Result{engineResult}}
	s := newTestSession(t, tr)
	s.AddPartialText("ignored partial")

	outcome := s.ProcessFinal(context.Background(), make([]byte, 100))

	assert.False(t, outcome.Fallback)
	assert.Equal(t, *engineResult, outcome.Result)
	assert.Equal(t, 1, tr.callCount())
}

func TestProcessFinalFailureFallsBack(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("engine down")}
	s := newTestSession(t, tr)
	s.AddPartialText("partial one")

	outcome := s.ProcessFinal(context.Background(), make([]byte, 5000))

	assert.True(t, outcome.Fallback)
	assert.Error(t, outcome.Err)
	assert.Equal(t, " partial one", outcome.Result.Text)
	assert.Equal(t, "unknown", outcome.Result.Language)
	assert.Equal(t, "base", outcome.Result.ModelUsed)
}

func TestChunkStatusString(t *testing.T) {
	assert.Equal(t, "skipped", ChunkSkipped.String())
	assert.Equal(t, "transcribed", ChunkTranscribed.String())
	assert.Equal(t, "failed", ChunkFailed.String())
	assert.Equal(t, "aborted", ChunkAborted.String())
	assert.Equal(t, "unknown", ChunkStatus(42).String())
}
