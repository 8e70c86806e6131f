package stream

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/whisper-stream-service/internal/audio"
	"github.com/skypro1111/whisper-stream-service/internal/metrics"
	"github.com/skypro1111/whisper-stream-service/internal/session"
)

func newTestSession(model string) *session.Session {
	buffer := audio.NewChunkBuffer(audio.BufferConfig{})
	return session.New(model, "ja", buffer, newFakeRegistry(nil), session.DefaultConfig(), testLogger())
}

func TestManagerRegisterAndUnregister(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	mgr := NewManager(ManagerConfig{}, testLogger(), m)
	defer mgr.Stop()

	first := newTestSession("base")
	second := newTestSession("tiny")
	require.NoError(t, mgr.Register(first, func() {}))
	require.NoError(t, mgr.Register(second, func() {}))

	assert.Equal(t, 2, mgr.Count())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams))

	got, ok := mgr.Get(first.ID)
	require.True(t, ok)
	assert.Same(t, first, got)

	infos := mgr.List()
	require.Len(t, infos, 2)
	assert.Equal(t, first.ID, infos[0].ID)
	assert.Equal(t, second.ID, infos[1].ID)

	assert.True(t, mgr.Unregister(first.ID))
	assert.False(t, mgr.Unregister(first.ID))
	_, ok = mgr.Get(first.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, mgr.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
}

func TestManagerMaxStreams(t *testing.T) {
	mgr := NewManager(ManagerConfig{MaxStreams: 1}, testLogger(), nil)
	defer mgr.Stop()

	require.NoError(t, mgr.Register(newTestSession("base"), func() {}))
	err := mgr.Register(newTestSession("base"), func() {})
	assert.ErrorIs(t, err, ErrTooManyStreams)
	assert.Equal(t, 1, mgr.Count())
}

func TestManagerStopCancelsStreams(t *testing.T) {
	mgr := NewManager(ManagerConfig{}, testLogger(), nil)

	var cancelled atomic.Int32
	require.NoError(t, mgr.Register(newTestSession("base"), func() { cancelled.Add(1) }))
	require.NoError(t, mgr.Register(newTestSession("base"), func() { cancelled.Add(1) }))

	mgr.Stop()
	assert.Equal(t, int32(2), cancelled.Load())
}

func TestManagerExpiresIdleStreams(t *testing.T) {
	mgr := NewManager(ManagerConfig{
		IdleTimeout:     20 * time.Millisecond,
		CleanupInterval: 5 * time.Millisecond,
	}, testLogger(), nil)
	defer mgr.Stop()

	var cancelled atomic.Bool
	require.NoError(t, mgr.Register(newTestSession("base"), func() { cancelled.Store(true) }))

	assert.Eventually(t, cancelled.Load, time.Second, 5*time.Millisecond)
}

func TestManagerListEmpty(t *testing.T) {
	mgr := NewManager(ManagerConfig{}, testLogger(), nil)
	defer mgr.Stop()

	infos := mgr.List()
	assert.NotNil(t, infos)
	assert.Empty(t, infos)
}
