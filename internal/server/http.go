package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/whisper-stream-service/internal/audio"
	"github.com/skypro1111/whisper-stream-service/internal/config"
	"github.com/skypro1111/whisper-stream-service/internal/engine"
	"github.com/skypro1111/whisper-stream-service/internal/metrics"
	"github.com/skypro1111/whisper-stream-service/internal/models"
	"github.com/skypro1111/whisper-stream-service/internal/storage"
	"github.com/skypro1111/whisper-stream-service/internal/stream"
)

const multipartMemory = 32 << 20

// EngineStatsProvider exposes backend client statistics, when the backend keeps any
type EngineStatsProvider interface {
	GetStats() engine.ClientStats
}

// Dependencies are the components the HTTP API serves
type Dependencies struct {
	Registry    *models.Registry
	Protocol    *stream.Protocol
	Manager     *stream.Manager
	Store       storage.Store
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	EngineStats EngineStatsProvider // optional
}

// HTTPServer provides the HTTP API
type HTTPServer struct {
	server      *http.Server
	router      *mux.Router
	logger      *slog.Logger
	config      *config.Config
	registry    *models.Registry
	protocol    *stream.Protocol
	manager     *stream.Manager
	store       storage.Store
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	engineStats EngineStatsProvider

	startTime time.Time
}

// TranscriptionResponse is returned by POST /transcribe
type TranscriptionResponse struct {
	Filename      string        `json:"filename"`
	ContentType   string        `json:"content_type"`
	FileSize      int64         `json:"file_size"`
	Transcription models.Result `json:"transcription"`
	Status        string        `json:"status"`
	TranscriptID  string        `json:"transcript_id,omitempty"`
}

// ModelLoadResponse is returned by POST /models/{name}/load
type ModelLoadResponse struct {
	Model    string  `json:"model"`
	IsLoaded bool    `json:"is_loaded"`
	LoadTime float64 `json:"load_time"`
	Message  string  `json:"message"`
}

// NewHTTPServer creates the HTTP API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, deps Dependencies) *HTTPServer {
	if deps.Store == nil {
		deps.Store = storage.NopStore{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		registry:    deps.Registry,
		protocol:    deps.Protocol,
		manager:     deps.Manager,
		store:       deps.Store,
		metrics:     deps.Metrics,
		gatherer:    deps.Gatherer,
		engineStats: deps.EngineStats,
		startTime:   time.Now(),
	}

	h.router = mux.NewRouter()
	h.setupRoutes(h.router)

	// no read/write timeouts: uploads and transcriptions can be long, and
	// upgraded WebSocket connections manage their own deadlines
	h.server = &http.Server{
		Addr:              appConfig.Server.Address(),
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the API router
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(r *mux.Router) {
	r.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
	r.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)

	// Models
	r.HandleFunc("/models", h.withMetrics("/models", h.handleModels)).Methods(http.MethodGet)
	r.HandleFunc("/models/{name}/status", h.withMetrics("/models/{name}/status", h.handleModelStatus)).Methods(http.MethodGet)
	r.HandleFunc("/models/{name}/info", h.withMetrics("/models/{name}/info", h.handleModelInfo)).Methods(http.MethodGet)
	r.HandleFunc("/models/{name}/load", h.withMetrics("/models/{name}/load", h.handleModelLoad)).Methods(http.MethodPost)

	// Transcription
	r.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe)).Methods(http.MethodPost)
	// not wrapped: the upgrade needs the original ResponseWriter
	r.HandleFunc("/stream-transcribe", h.handleStreamTranscribe).Methods(http.MethodGet)

	// Monitoring
	r.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams)).Methods(http.MethodGet)
	r.HandleFunc("/streams/{id}", h.withMetrics("/streams/{id}", h.handleStreamDetail)).Methods(http.MethodGet)
	r.HandleFunc("/transcripts", h.withMetrics("/transcripts", h.handleTranscripts)).Methods(http.MethodGet)
	r.HandleFunc("/transcripts/{id}", h.withMetrics("/transcripts/{id}", h.handleTranscriptDetail)).Methods(http.MethodGet)
	r.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats)).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.NotFoundHandler = h.withMetrics("not_found", func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "not_found", "Not Found")
	})
	r.MethodNotAllowedHandler = h.withMetrics("method_not_allowed", func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": h.config.Server.AppName,
		"version": h.config.Server.Version,
		"endpoints": map[string]interface{}{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /models":                "List available models",
			"GET /models/{name}/status":  "Model readiness",
			"GET /models/{name}/info":    "Model details",
			"POST /models/{name}/load":   "Load a model ahead of use",
			"POST /transcribe":           "Transcribe an uploaded audio file",
			"GET /stream-transcribe":     "Streaming transcription over WebSocket",
			"GET /streams":               "List active streams",
			"GET /streams/{id}":          "Get stream details",
			"GET /transcripts":           "List stored transcripts",
			"GET /transcripts/{id}":      "Get a stored transcript",
			"GET /config":                "Get service configuration",
			"GET /stats":                 "Get service statistics",
			"GET /metrics":               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    h.config.Server.AppName,
			"version": h.config.Server.Version,
		},
		"components": map[string]interface{}{
			"streams": map[string]interface{}{
				"status":         "running",
				"active_streams": h.manager.Count(),
			},
			"models": map[string]interface{}{
				"status":        "running",
				"loaded_models": h.registry.LoadedModels(),
			},
			"engine": map[string]interface{}{
				"backend": h.config.Engine.Backend,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

func (h *HTTPServer) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available_models": h.registry.AvailableModels(),
	})
}

func (h *HTTPServer) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Status(mux.Vars(r)["name"]))
}

func (h *HTTPServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Describe(mux.Vars(r)["name"]))
}

// handleModelLoad loads a model ahead of its first use
func (h *HTTPServer) handleModelLoad(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if !h.registry.IsValid(name) {
		h.writeError(w, r, &models.InvalidModelError{Model: name, Available: h.registry.AvailableModels()})
		return
	}

	if h.registry.IsLoaded(name) {
		writeJSON(w, http.StatusOK, ModelLoadResponse{
			Model:    name,
			IsLoaded: true,
			LoadTime: 0,
			Message:  "Model was already loaded",
		})
		return
	}

	start := time.Now()
	if _, err := h.registry.Load(r.Context(), name); err != nil {
		h.writeError(w, r, err)
		return
	}
	loadTime := time.Since(start).Seconds()

	writeJSON(w, http.StatusOK, ModelLoadResponse{
		Model:    name,
		IsLoaded: true,
		LoadTime: loadTime,
		Message:  fmt.Sprintf("Model loaded successfully in %.2f seconds", loadTime),
	})
}

// handleTranscribe transcribes one uploaded file. Checks run in order:
// size, content type, model, language.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	maxSize := h.config.Server.MaxFileSize

	// hard cap on the whole body; the per-file limit is checked below
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(w, r, &fileTooLargeError{Size: r.ContentLength, Max: maxSize})
			return
		}
		writeMessage(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("Failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusUnprocessableEntity, "validation_error", "file is required")
		return
	}
	defer file.Close()

	if header.Size > maxSize {
		h.writeError(w, r, &fileTooLargeError{Size: header.Size, Max: maxSize})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType != "" && !h.allowedFormat(contentType) {
		h.writeError(w, r, &unsupportedFormatError{ContentType: contentType, Supported: h.config.Server.AllowedAudioFormats})
		return
	}

	model := r.FormValue("model")
	if model == "" {
		model = h.config.Models.DefaultModel
	}
	if !h.registry.IsValid(model) {
		h.writeError(w, r, &models.InvalidModelError{Model: model, Available: h.registry.AvailableModels()})
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = h.config.Models.DefaultLanguage
	}
	language = engine.NormalizeLanguage(language)

	path, err := saveUpload(file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer os.Remove(path)

	if isWAVUpload(contentType, header.Filename) {
		info, err := inspectWAV(path)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.logger.Debug("WAV upload",
			slog.Uint64("sample_rate", uint64(info.SampleRate)),
			slog.Int("channels", int(info.Channels)),
			slog.Float64("duration", info.Duration),
		)
	}

	result, err := h.registry.Transcribe(r.Context(), path, model, language)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filename := header.Filename
	if filename == "" {
		filename = "unknown"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	record := &storage.TranscriptRecord{
		Source:   storage.SourceUpload,
		Filename: filename,
		Model:    result.ModelUsed,
		Language: result.Language,
		Text:     result.Text,
		Segments: result.Segments,
	}
	if err := h.store.Save(r.Context(), record); err != nil {
		h.logger.Warn("Failed to store transcript", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, TranscriptionResponse{
		Filename:      filename,
		ContentType:   contentType,
		FileSize:      header.Size,
		Transcription: *result,
		Status:        "completed",
		TranscriptID:  record.ID,
	})
}

func (h *HTTPServer) allowedFormat(contentType string) bool {
	for _, allowed := range h.config.Server.AllowedAudioFormats {
		if contentType == allowed {
			return true
		}
	}
	return false
}

var wavContentTypes = map[string]bool{
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/wave":  true,
}

func isWAVUpload(contentType, filename string) bool {
	return wavContentTypes[contentType] || strings.EqualFold(filepath.Ext(filename), ".wav")
}

// inspectWAV checks the RIFF structure of a saved WAV upload. Other formats
// are left to the engine.
func inspectWAV(path string) (*audio.WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &audio.ProcessingError{Op: "audio validation", Err: err}
	}
	defer f.Close()

	info, err := audio.ReadWAVInfo(bufio.NewReader(f))
	if err != nil {
		return nil, &audio.ProcessingError{Op: "audio validation", Err: err}
	}
	return info, nil
}

// saveUpload copies the uploaded file, unmodified, to a temporary file
func saveUpload(file multipart.File) (string, error) {
	tmp, err := os.CreateTemp("", "upload-*.tmp")
	if err != nil {
		return "", &audio.ProcessingError{Op: "save upload", Err: err}
	}

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", &audio.ProcessingError{Op: "save upload", Err: err}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", &audio.ProcessingError{Op: "save upload", Err: err}
	}

	return tmp.Name(), nil
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	infos := h.manager.List()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_streams": len(infos),
		"timestamp":     time.Now().UTC(),
		"streams":       infos,
	})
}

// handleStreamDetail implements the /streams/{id} endpoint
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	sess, exists := h.manager.Get(mux.Vars(r)["id"])
	if !exists {
		writeMessage(w, http.StatusNotFound, "stream_not_found", "Stream not found")
		return
	}

	writeJSON(w, http.StatusOK, sess.Info())
}

// handleTranscripts lists stored transcripts, newest first
func (h *HTTPServer) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := h.config.Storage.ListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeMessage(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":       len(records),
		"transcripts": records,
	})
}

func (h *HTTPServer) handleTranscriptDetail(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "transcript_not_found", "Transcript not found")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.config

	// API key is intentionally omitted
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"host":                  cfg.Server.Host,
			"port":                  cfg.Server.Port,
			"max_file_size":         cfg.Server.MaxFileSize,
			"allowed_audio_formats": cfg.Server.AllowedAudioFormats,
		},
		"models": map[string]interface{}{
			"dir":              cfg.Models.Dir,
			"cache_dir":        cfg.Models.GetModelCacheDir(),
			"extensions":       h.registry.Extensions(),
			"default_model":    cfg.Models.DefaultModel,
			"default_language": cfg.Models.DefaultLanguage,
		},
		"engine": map[string]interface{}{
			"backend":        cfg.Engine.Backend,
			"endpoint":       cfg.Engine.Endpoint,
			"timeout":        cfg.Engine.Timeout,
			"max_retries":    cfg.Engine.MaxRetries,
			"max_concurrent": cfg.Engine.MaxConcurrent,
		},
		"streaming": map[string]interface{}{
			"chunk_duration":      cfg.Streaming.ChunkDuration,
			"default_sample_rate": cfg.Streaming.DefaultSampleRate,
			"max_buffer_bytes":    cfg.Streaming.MaxBufferBytes,
			"max_streams":         cfg.Streaming.MaxStreams,
			"idle_timeout":        cfg.Streaming.IdleTimeout,
		},
		"storage": map[string]interface{}{
			"enabled": cfg.Storage.Enabled,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"streams": map[string]interface{}{
			"active_count": h.manager.Count(),
		},
		"models": map[string]interface{}{
			"available": len(h.registry.AvailableModels()),
			"custom":    len(h.registry.CustomModels()),
			"loaded":    h.registry.LoadedModels(),
		},
	}
	if h.engineStats != nil {
		stats["engine"] = h.engineStats.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}
