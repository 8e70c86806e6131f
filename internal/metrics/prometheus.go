package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Stream metrics
	ActiveStreams    prometheus.Gauge
	StreamsCreated   prometheus.Counter
	StreamsRejected  *prometheus.CounterVec
	StreamsDestroyed prometheus.Counter
	StreamDuration   prometheus.Histogram
	ProtocolErrors   prometheus.Counter

	// Chunk metrics
	ChunksReceived  prometheus.Counter
	ChunkOutcomes   *prometheus.CounterVec
	ChunkSize       prometheus.Histogram
	FinalResults    *prometheus.CounterVec
	AudioBytesTotal prometheus.Counter

	// Model metrics
	ModelLoads        *prometheus.CounterVec
	ModelLoadDuration *prometheus.HistogramVec
	LoadedModels      prometheus.Gauge
	CustomModels      prometheus.Gauge

	// Transcription metrics
	TranscriptionRequests *prometheus.CounterVec
	TranscriptionDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_active_streams",
			Help: "Current number of open streaming sessions",
		}),
		StreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_streams_created_total",
			Help: "Total number of streaming sessions that reached the ready state",
		}),
		StreamsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_streams_rejected_total",
			Help: "Total number of streaming connections rejected before ready",
		}, []string{"reason"}),
		StreamsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_streams_destroyed_total",
			Help: "Total number of streaming sessions closed",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_stream_duration_seconds",
			Help:    "Duration of streaming sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_protocol_errors_total",
			Help: "Total number of malformed control messages",
		}),

		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_chunks_received_total",
			Help: "Total number of fixed-size chunks released by stream buffers",
		}),
		ChunkOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_chunk_outcomes_total",
			Help: "Chunk processing outcomes",
		}, []string{"outcome"}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_chunk_size_bytes",
			Help:    "Size of released audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		FinalResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_final_results_total",
			Help: "Final results sent, by source",
		}, []string{"source"}),
		AudioBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_audio_bytes_received_total",
			Help: "Total PCM bytes received over streaming connections",
		}),

		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_model_loads_total",
			Help: "Model load attempts",
		}, []string{"model", "result"}),
		ModelLoadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_model_load_duration_seconds",
			Help:    "Time spent loading models",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1.5 minutes
		}, []string{"model"}),
		LoadedModels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_loaded_models",
			Help: "Number of models currently held in memory",
		}),
		CustomModels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_custom_models",
			Help: "Number of custom model files found in the model directory",
		}),

		TranscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_transcription_requests_total",
			Help: "Engine transcription calls",
		}, []string{"model", "result"}),
		TranscriptionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_transcription_duration_seconds",
			Help:    "Duration of engine transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"model"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_errors_total",
			Help: "Total number of HTTP error responses",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetActiveStreams sets the current number of open sessions
func (m *Metrics) SetActiveStreams(count int) {
	if m == nil {
		return
	}
	m.ActiveStreams.Set(float64(count))
}

// RecordStreamCreated increments the streams created counter
func (m *Metrics) RecordStreamCreated() {
	if m == nil {
		return
	}
	m.StreamsCreated.Inc()
}

// RecordStreamRejected counts a connection closed before ready
func (m *Metrics) RecordStreamRejected(reason string) {
	if m == nil {
		return
	}
	m.StreamsRejected.WithLabelValues(reason).Inc()
}

// RecordStreamDestroyed increments the streams destroyed counter and records duration
func (m *Metrics) RecordStreamDestroyed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.StreamsDestroyed.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordProtocolError counts a malformed control message
func (m *Metrics) RecordProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

// RecordAudioBytes adds received PCM bytes
func (m *Metrics) RecordAudioBytes(n int) {
	if m == nil {
		return
	}
	m.AudioBytesTotal.Add(float64(n))
}

// RecordChunkReleased records a chunk handed over by a stream buffer
func (m *Metrics) RecordChunkReleased(sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordChunkOutcome counts a chunk result (transcribed, skipped, failed, aborted)
func (m *Metrics) RecordChunkOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ChunkOutcomes.WithLabelValues(outcome).Inc()
}

// RecordFinalResult counts a final result by source (engine or fallback)
func (m *Metrics) RecordFinalResult(source string) {
	if m == nil {
		return
	}
	m.FinalResults.WithLabelValues(source).Inc()
}

// RecordModelLoad records a model load attempt
func (m *Metrics) RecordModelLoad(model string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ModelLoads.WithLabelValues(model, resultLabel(success)).Inc()
	m.ModelLoadDuration.WithLabelValues(model).Observe(durationSeconds)
}

// SetLoadedModels sets the number of cached model handles
func (m *Metrics) SetLoadedModels(count int) {
	if m == nil {
		return
	}
	m.LoadedModels.Set(float64(count))
}

// SetCustomModels sets the number of custom model files on disk
func (m *Metrics) SetCustomModels(count int) {
	if m == nil {
		return
	}
	m.CustomModels.Set(float64(count))
}

// RecordTranscription records one engine call
func (m *Metrics) RecordTranscription(model string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.WithLabelValues(model, resultLabel(success)).Inc()
	m.TranscriptionDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
