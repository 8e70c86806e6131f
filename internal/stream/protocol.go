package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/whisper-stream-service/internal/audio"
	"github.com/skypro1111/whisper-stream-service/internal/engine"
	"github.com/skypro1111/whisper-stream-service/internal/metrics"
	"github.com/skypro1111/whisper-stream-service/internal/models"
	"github.com/skypro1111/whisper-stream-service/internal/protocol"
	"github.com/skypro1111/whisper-stream-service/internal/session"
	"github.com/skypro1111/whisper-stream-service/internal/storage"
)

// FrameKind distinguishes audio frames from control frames
type FrameKind int

const (
	FrameBinary FrameKind = iota
	FrameText
)

// Transport is a message-oriented, bidirectional connection.
// Close must be safe to call more than once and must unblock ReadFrame.
type Transport interface {
	ReadFrame() (FrameKind, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Registry is the part of the model registry the protocol needs
type Registry interface {
	session.Transcriber
	IsValid(id string) bool
	AvailableModels() []string
}

// State of a streaming connection
type State int

const (
	StateAccepting State = iota
	StateReady
	StateStreaming
	StateFinalizing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config contains per-connection settings
type Config struct {
	DefaultSampleRate uint32
	ChunkDuration     float64
	MaxBufferBytes    int // 0 = unbounded
	Session           session.Config
}

// Protocol serves streaming transcription connections
type Protocol struct {
	registry Registry
	manager  *Manager
	store    storage.Store
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProtocol creates a protocol handler. store may be storage.NopStore.
func NewProtocol(registry Registry, manager *Manager, store storage.Store, config Config, logger *slog.Logger, m *metrics.Metrics) *Protocol {
	if config.DefaultSampleRate == 0 {
		config.DefaultSampleRate = audio.DefaultSampleRate
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = audio.DefaultChunkDuration
	}
	if store == nil {
		store = storage.NopStore{}
	}

	return &Protocol{
		registry: registry,
		manager:  manager,
		store:    store,
		config:   config,
		logger:   logger,
		metrics:  m,
	}
}

// errStreamAborted ends the read loop without sending anything
var errStreamAborted = errors.New("stream aborted")

// connection holds the state of one Serve call
type connection struct {
	protocol  *Protocol
	transport Transport
	logger    *slog.Logger
	state     State
	session   *session.Session
}

// Serve runs the state machine until the stream ends. The transport is always
// closed on return and the terminal state is returned.
func (p *Protocol) Serve(ctx context.Context, transport Transport, modelID, language string) (final State) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &connection{
		protocol:  p,
		transport: transport,
		logger:    p.logger.With(slog.String("model", modelID)),
		state:     StateAccepting,
	}

	// cancellation from the manager must unblock ReadFrame
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			transport.Close()
		case <-done:
		}
	}()

	defer func() {
		if err := transport.Close(); err != nil {
			c.logger.Debug("Transport close failed", slog.String("error", err.Error()))
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Stream handler panic", slog.Any("panic", r))
			c.fail(fmt.Sprintf("Server error: %v", r))
			final = c.state
		}
	}()

	if !c.accept(ctx, modelID, language, cancel) {
		return c.state
	}
	defer c.release()

	if err := c.run(ctx); err != nil {
		if errors.Is(err, errStreamAborted) {
			c.state = StateClosed
			return c.state
		}
		c.logger.Error("Stream error", slog.String("error", err.Error()))
		c.fail(fmt.Sprintf("Server error: %v", err))
		return c.state
	}

	c.state = StateClosed
	return c.state
}

// accept validates the request, creates the session and sends ready
func (c *connection) accept(ctx context.Context, modelID, language string, cancel context.CancelFunc) bool {
	p := c.protocol

	if !p.registry.IsValid(modelID) {
		err := &models.InvalidModelError{Model: modelID, Available: p.registry.AvailableModels()}
		c.logger.Warn("Rejecting stream with invalid model")
		p.metrics.RecordStreamRejected("invalid_model")
		c.fail(err.Error())
		return false
	}

	normalized := engine.NormalizeLanguage(language)

	buffer := audio.NewChunkBuffer(audio.BufferConfig{
		SampleRate:    p.config.DefaultSampleRate,
		ChunkDuration: p.config.ChunkDuration,
		MaxBytes:      p.config.MaxBufferBytes,
	})
	sess := session.New(modelID, normalized, buffer, p.registry, p.config.Session, p.logger)

	if err := p.manager.Register(sess, cancel); err != nil {
		c.logger.Warn("Rejecting stream", slog.String("error", err.Error()))
		p.metrics.RecordStreamRejected("capacity")
		c.fail(fmt.Sprintf("Server error: %v", err))
		return false
	}

	c.session = sess
	c.logger = c.logger.With(slog.String("session_id", sess.ID))

	if err := c.transport.WriteJSON(protocol.NewReady()); err != nil {
		c.logger.Info("Client went away before ready", slog.String("error", err.Error()))
		c.state = StateClosed
		return false
	}

	p.metrics.RecordStreamCreated()
	c.state = StateReady
	c.logger.Info("Stream ready",
		slog.String("language", engine.LanguageLabel(normalized)),
		slog.Int("chunk_size_bytes", buffer.ChunkSizeBytes()),
	)

	return true
}

func (c *connection) release() {
	p := c.protocol
	p.manager.Unregister(c.session.ID)
	p.metrics.RecordStreamDestroyed(time.Since(c.session.StartTime()).Seconds())
}

// run reads frames until end, a read error or a fatal failure
func (c *connection) run(ctx context.Context) error {
	for {
		kind, data, err := c.transport.ReadFrame()
		if err != nil {
			c.logger.Info("Stream connection closed",
				slog.String("state", c.state.String()),
				slog.String("reason", err.Error()),
			)
			return errStreamAborted
		}

		switch kind {
		case FrameBinary:
			if err := c.handleAudio(ctx, data); err != nil {
				return err
			}

		case FrameText:
			finished, err := c.handleControl(ctx, data)
			if err != nil {
				return err
			}
			if finished {
				return nil
			}
		}
	}
}

func (c *connection) handleAudio(ctx context.Context, data []byte) error {
	p := c.protocol

	if err := c.session.Buffer.AddData(data); err != nil {
		c.logger.Warn("Audio buffer limit exceeded",
			slog.Int("frame_bytes", len(data)),
			slog.Int("pending_bytes", c.session.Buffer.Len()),
		)
		return err
	}
	p.metrics.RecordAudioBytes(len(data))
	c.state = StateStreaming

	chunk, ok := c.session.Buffer.ChunkIfReady()
	if !ok {
		return nil
	}
	p.metrics.RecordChunkReleased(len(chunk))

	outcome := c.session.ProcessChunk(ctx, chunk)
	p.metrics.RecordChunkOutcome(outcome.Status.String())

	switch outcome.Status {
	case session.ChunkTranscribed:
		c.session.AddPartialText(outcome.Partial.Text)
		msg := protocol.NewPartial(outcome.Partial.Text, outcome.Partial.Start, outcome.Partial.End, outcome.Partial.ChunkID)
		if err := c.transport.WriteJSON(msg); err != nil {
			c.logger.Info("Failed to send partial", slog.String("error", err.Error()))
			return errStreamAborted
		}
	case session.ChunkAborted:
		return errStreamAborted
	}

	return nil
}

// handleControl reports true once the final result has been sent
func (c *connection) handleControl(ctx context.Context, data []byte) (bool, error) {
	p := c.protocol

	control, err := protocol.ParseControl(data)
	if err != nil {
		var protoErr *protocol.Error
		if !errors.As(err, &protoErr) {
			return false, err
		}
		p.metrics.RecordProtocolError()
		c.logger.Warn("Malformed control message", slog.String("error", err.Error()))
		if err := c.transport.WriteJSON(protocol.NewError(protoErr.ClientMessage())); err != nil {
			return false, errStreamAborted
		}
		return false, nil
	}

	switch control.Type {
	case protocol.TypeAudioInfo:
		sampleRate := control.AudioInfo.SampleRate
		if sampleRate == 0 {
			sampleRate = p.config.DefaultSampleRate
		}
		c.session.Buffer.UpdateSampleRate(sampleRate)
		c.logger.Info("Audio info received",
			slog.Uint64("sample_rate", uint64(sampleRate)),
			slog.Int("chunk_size_bytes", c.session.Buffer.ChunkSizeBytes()),
		)
		return false, nil

	case protocol.TypeEnd:
		c.state = StateFinalizing
		c.finish(ctx)
		return true, nil

	default:
		c.logger.Debug("Ignoring control message", slog.String("type", control.Type))
		return false, nil
	}
}

// finish drains the buffer, sends the final result and records it
func (c *connection) finish(ctx context.Context) {
	p := c.protocol

	remainder := c.session.Buffer.DrainRemainder()
	outcome := c.session.ProcessFinal(ctx, remainder)

	source := "engine"
	if outcome.Fallback {
		source = "fallback"
	}
	p.metrics.RecordFinalResult(source)

	result := outcome.Result
	msg := protocol.NewFinal(result.Text, result.Language, result.Segments, result.ModelUsed)
	if err := c.transport.WriteJSON(msg); err != nil {
		c.logger.Info("Failed to send final result", slog.String("error", err.Error()))
	}

	info := c.session.Info()
	record := &storage.TranscriptRecord{
		Source:    storage.SourceStream,
		SessionID: c.session.ID,
		Model:     result.ModelUsed,
		Language:  result.Language,
		Text:      result.Text,
		Segments:  result.Segments,
		Fallback:  outcome.Fallback,
		Chunks:    info.ChunkCounter,
		Duration:  info.Duration,
	}
	if err := p.store.Save(context.WithoutCancel(ctx), record); err != nil {
		c.logger.Warn("Failed to store transcript", slog.String("error", err.Error()))
	}

	c.logger.Info("Stream finalized",
		slog.String("source", source),
		slog.Uint64("chunks_transcribed", info.ChunkCounter),
		slog.Int("remainder_bytes", len(remainder)),
	)
}

// fail sends a best-effort error message and moves to Error
func (c *connection) fail(message string) {
	c.state = StateError
	if err := c.transport.WriteJSON(protocol.NewError(message)); err != nil {
		c.logger.Debug("Failed to send error message", slog.String("error", err.Error()))
	}
	c.state = StateClosed
}
