package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/skypro1111/whisper-stream-service/internal/engine"
	"github.com/skypro1111/whisper-stream-service/internal/models"
	"github.com/skypro1111/whisper-stream-service/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type frame struct {
	kind FrameKind
	data []byte
}

func binaryFrame(size int) frame {
	return frame{kind: FrameBinary, data: make([]byte, size)}
}

func textFrame(s string) frame {
	return frame{kind: FrameText, data: []byte(s)}
}

// fakeTransport replays frames and records every message written.
// After the last frame it reports io.EOF, like a client disconnect.
type fakeTransport struct {
	frames chan frame
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []map[string]interface{}
}

func newFakeTransport(frames ...frame) *fakeTransport {
	t := newBlockingTransport(len(frames))
	for _, f := range frames {
		t.frames <- f
	}
	close(t.frames)
	return t
}

// newBlockingTransport blocks in ReadFrame until frames are pushed or it is closed
func newBlockingTransport(capacity int) *fakeTransport {
	return &fakeTransport{
		frames: make(chan frame, capacity),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadFrame() (FrameKind, []byte, error) {
	select {
	case <-t.closed:
		return 0, nil, net.ErrClosed
	default:
	}

	select {
	case f, ok := <-t.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return f.kind, f.data, nil
	case <-t.closed:
		return 0, nil, net.ErrClosed
	}
}

func (t *fakeTransport) WriteJSON(v interface{}) error {
	select {
	case <-t.closed:
		return net.ErrClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	t.mu.Lock()
	t.written = append(t.written, msg)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) messages() []map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]map[string]interface{}(nil), t.written...)
}

func (t *fakeTransport) types() []string {
	msgs := t.messages()
	types := make([]string, len(msgs))
	for i, m := range msgs {
		types[i], _ = m["type"].(string)
	}
	return types
}

// fakeRegistry accepts a fixed model set and answers with transcribe
type fakeRegistry struct {
	valid      []string
	transcribe func(call int, audioPath string) (*models.Result, error)

	mu        sync.Mutex
	calls     int
	sizes     []int64
	languages []string
}

func newFakeRegistry(transcribe func(call int, audioPath string) (*models.Result, error)) *fakeRegistry {
	return &fakeRegistry{
		valid:      []string{"base", "tiny"},
		transcribe: transcribe,
	}
}

func (r *fakeRegistry) IsValid(id string) bool {
	for _, v := range r.valid {
		if v == id {
			return true
		}
	}
	return false
}

func (r *fakeRegistry) AvailableModels() []string {
	out := append([]string(nil), r.valid...)
	sort.Strings(out)
	return out
}

func (r *fakeRegistry) Transcribe(ctx context.Context, audioPath, modelID, language string) (*models.Result, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.languages = append(r.languages, language)
	if info, err := os.Stat(audioPath); err == nil {
		r.sizes = append(r.sizes, info.Size())
	}
	r.mu.Unlock()

	if r.transcribe == nil {
		return &models.Result{Text: "ok", Language: language, Segments: []engine.Segment{}, ModelUsed: modelID}, nil
	}
	result, err := r.transcribe(call, audioPath)
	if result != nil && result.ModelUsed == "" {
		result.ModelUsed = modelID
	}
	return result, err
}

func (r *fakeRegistry) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func textResult(text string) func(int, string) (*models.Result, error) {
	return func(call int, _ string) (*models.Result, error) {
		return &models.Result{Text: text, Language: "ja", Segments: []engine.Segment{}}, nil
	}
}

var errEngine = errors.New("engine exploded")

// recordingStore keeps saved records in memory
type recordingStore struct {
	mu      sync.Mutex
	records []storage.TranscriptRecord
}

func (s *recordingStore) Save(_ context.Context, record *storage.TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

func (s *recordingStore) Get(_ context.Context, id string) (*storage.TranscriptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *recordingStore) List(context.Context, int) ([]storage.TranscriptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.TranscriptRecord(nil), s.records...), nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) saved() []storage.TranscriptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.TranscriptRecord(nil), s.records...)
}
