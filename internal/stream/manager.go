package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/whisper-stream-service/internal/metrics"
	"github.com/skypro1111/whisper-stream-service/internal/session"
)

// ErrTooManyStreams is returned by Register when the stream limit is reached
var ErrTooManyStreams = errors.New("too many active streams")

const defaultCleanupInterval = 30 * time.Second

// ManagerConfig contains limits for active streams
type ManagerConfig struct {
	MaxStreams      int           // 0 = unlimited
	IdleTimeout     time.Duration // 0 = never expire
	CleanupInterval time.Duration
}

type activeStream struct {
	session *session.Session
	cancel  context.CancelFunc
}

// Manager tracks all active streaming sessions
type Manager struct {
	streams map[string]*activeStream
	mu      sync.RWMutex
	logger  *slog.Logger
	config  ManagerConfig
	metrics *metrics.Metrics

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a stream manager. The idle cleanup routine only runs
// when IdleTimeout is set.
func NewManager(config ManagerConfig, logger *slog.Logger, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}

	mgr := &Manager{
		streams: make(map[string]*activeStream),
		logger:  logger,
		config:  config,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	if config.IdleTimeout > 0 {
		go mgr.startCleanupRoutine()
	} else {
		close(mgr.cleanup)
	}

	return mgr
}

// Register adds a session. cancel is invoked when the manager expires or
// stops the stream.
func (m *Manager) Register(s *session.Session, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxStreams > 0 && len(m.streams) >= m.config.MaxStreams {
		return fmt.Errorf("%w: limit is %d", ErrTooManyStreams, m.config.MaxStreams)
	}

	m.streams[s.ID] = &activeStream{session: s, cancel: cancel}
	m.metrics.SetActiveStreams(len(m.streams))

	m.logger.Info("Stream session registered",
		slog.String("session_id", s.ID),
		slog.String("model", s.ModelID),
		slog.String("language", s.Language),
		slog.Int("active_streams", len(m.streams)),
	)

	return nil
}

// Unregister removes a session; it reports whether the session was present
func (m *Manager) Unregister(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream, exists := m.streams[id]
	if !exists {
		return false
	}

	delete(m.streams, id)
	m.metrics.SetActiveStreams(len(m.streams))

	info := stream.session.Info()
	m.logger.Info("Stream session removed",
		slog.String("session_id", id),
		slog.Duration("duration", time.Since(info.StartTime)),
		slog.Uint64("chunks_transcribed", info.ChunkCounter),
		slog.Uint64("chunks_failed", info.ChunksFailed),
	)

	return true
}

// Get returns an active session
func (m *Manager) Get(id string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream, exists := m.streams[id]
	if !exists {
		return nil, false
	}
	return stream.session, true
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// List returns monitoring snapshots ordered by start time
func (m *Manager) List() []session.SessionInfo {
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.streams))
	for _, stream := range m.streams {
		sessions = append(sessions, stream.session)
	}
	m.mu.RUnlock()

	infos := make([]session.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartTime.Before(infos[j].StartTime)
	})

	return infos
}

// Stop cancels every active stream and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping stream manager...")

	m.mu.RLock()
	for _, stream := range m.streams {
		stream.cancel()
	}
	remaining := len(m.streams)
	m.mu.RUnlock()

	m.cancel()
	<-m.cleanup

	m.logger.Info("Stream manager stopped",
		slog.Int("cancelled_streams", remaining),
	)
}

// startCleanupRoutine runs in a separate goroutine to expire idle streams
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Stream cleanup routine started",
		slog.Duration("idle_timeout", m.config.IdleTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Stream cleanup routine stopping")
			return

		case <-ticker.C:
			m.expireIdleStreams()
		}
	}
}

// expireIdleStreams cancels streams that have been inactive for too long.
// The connection goroutine unregisters the session when it exits.
func (m *Manager) expireIdleStreams() {
	now := time.Now()

	m.mu.RLock()
	expired := make([]*activeStream, 0)
	for _, stream := range m.streams {
		if now.Sub(stream.session.Info().LastActivity) > m.config.IdleTimeout {
			expired = append(expired, stream)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Expiring idle streams",
		slog.Int("expired_count", len(expired)),
	)

	for _, stream := range expired {
		m.logger.Info("Stream idle timeout",
			slog.String("session_id", stream.session.ID),
		)
		stream.cancel()
	}
}
