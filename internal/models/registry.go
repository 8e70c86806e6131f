package models

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skypro1111/whisper-stream-service/internal/engine"
	"github.com/skypro1111/whisper-stream-service/internal/metrics"
)

// StandardModels are always available, in canonical order
var StandardModels = []string{
	"tiny",
	"base",
	"small",
	"medium",
	"large-v1",
	"large-v2",
	"large-v3",
}

var customNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// standardWeightsPrefix is the whisper.cpp file name prefix of standard models
const standardWeightsPrefix = "ggml-"

// DefaultExtensions lists the file extensions recognised as custom models
var DefaultExtensions = []string{".pt"}

// Config contains registry configuration
type Config struct {
	ModelDir          string        // scanned for custom model files
	CacheDir          string        // where standard models are loaded from; defaults to ModelDir
	Extensions        []string      // custom model file extensions; defaults to DefaultExtensions
	TranscribeTimeout time.Duration // 0 disables the per-call deadline
}

// Result is a completed transcription
type Result struct {
	Text      string           `json:"text"`
	Language  string           `json:"language"`
	Segments  []engine.Segment `json:"segments"`
	ModelUsed string           `json:"model_used"`
}

// ModelStatus reports whether a model can be used and whether it is in memory
type ModelStatus struct {
	Model    string `json:"model"`
	IsReady  bool   `json:"is_ready"`
	IsLoaded bool   `json:"is_loaded"`
	IsCustom bool   `json:"is_custom"`
	Message  string `json:"message"`
}

// ModelInfo describes a model without loading it
type ModelInfo struct {
	Model        string   `json:"model"`
	Exists       bool     `json:"exists"`
	IsCustom     bool     `json:"is_custom"`
	IsLoaded     bool     `json:"is_loaded"`
	Type         string   `json:"type"`
	FilePath     *string  `json:"file_path"`
	FileSize     *int64   `json:"file_size"`
	LastModified *float64 `json:"last_modified"`
	Message      string   `json:"message,omitempty"`
}

// Registry knows which models exist and holds loaded engine handles.
// Loaded handles are never evicted.
type Registry struct {
	config  Config
	loader  engine.Loader
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	loaded map[string]engine.Model
	group  singleflight.Group
}

// NewRegistry creates a registry and ensures the model directory exists
func NewRegistry(config Config, loader engine.Loader, logger *slog.Logger, m *metrics.Metrics) (*Registry, error) {
	if config.ModelDir == "" {
		return nil, fmt.Errorf("model directory cannot be empty")
	}
	if loader == nil {
		return nil, fmt.Errorf("engine loader cannot be nil")
	}
	if config.CacheDir == "" {
		config.CacheDir = config.ModelDir
	}
	if len(config.Extensions) == 0 {
		config.Extensions = DefaultExtensions
	}

	if err := os.MkdirAll(config.ModelDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create model directory %s: %w", config.ModelDir, err)
	}

	return &Registry{
		config:  config,
		loader:  loader,
		logger:  logger,
		metrics: m,
		loaded:  make(map[string]engine.Model),
	}, nil
}

// ModelDir returns the directory scanned for custom models
func (r *Registry) ModelDir() string {
	return r.config.ModelDir
}

// Extensions returns the recognised custom model file extensions
func (r *Registry) Extensions() []string {
	return r.config.Extensions
}

// CustomModels scans the model directory. Files with invalid names are skipped.
func (r *Registry) CustomModels() []string {
	entries, err := os.ReadDir(r.config.ModelDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("Failed to scan model directory",
				slog.String("dir", r.config.ModelDir),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	seen := make(map[string]bool)
	var custom []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		stem, ok := r.stem(name)
		if !ok {
			continue
		}
		if isStandardWeights(stem) {
			continue
		}
		if !customNamePattern.MatchString(stem) {
			r.logger.Warn("Invalid model filename ignored", slog.String("file", name))
			continue
		}
		if !seen[stem] {
			seen[stem] = true
			custom = append(custom, stem)
		}
	}

	return custom
}

// isStandardWeights reports whether stem names the whisper.cpp weights of a
// standard model (ggml-base), which live here when the cache dir is the model dir
func isStandardWeights(stem string) bool {
	name, ok := strings.CutPrefix(stem, standardWeightsPrefix)
	return ok && IsStandard(name)
}

// stem strips a recognised extension from a file name
func (r *Registry) stem(name string) (string, bool) {
	ext := filepath.Ext(name)
	for _, allowed := range r.config.Extensions {
		if ext == allowed {
			return strings.TrimSuffix(name, ext), true
		}
	}
	return "", false
}

// AvailableModels returns the sorted union of standard and custom models.
// The directory is rescanned on every call.
func (r *Registry) AvailableModels() []string {
	set := make(map[string]bool, len(StandardModels))
	for _, m := range StandardModels {
		set[m] = true
	}
	for _, m := range r.CustomModels() {
		set[m] = true
	}

	available := make([]string, 0, len(set))
	for m := range set {
		available = append(available, m)
	}
	sort.Strings(available)

	return available
}

// IsValid reports whether id is a standard or custom model
func (r *Registry) IsValid(id string) bool {
	for _, m := range r.AvailableModels() {
		if m == id {
			return true
		}
	}
	return false
}

// IsStandard reports whether id is one of StandardModels
func IsStandard(id string) bool {
	for _, m := range StandardModels {
		if m == id {
			return true
		}
	}
	return false
}

// IsCustom reports whether id is a custom model; a file named like a
// standard model does not make it custom.
func (r *Registry) IsCustom(id string) bool {
	if IsStandard(id) {
		return false
	}
	for _, m := range r.CustomModels() {
		if m == id {
			return true
		}
	}
	return false
}

// ResolvePath returns the file path of a custom model or the id of a standard one
func (r *Registry) ResolvePath(id string) (string, bool) {
	if r.IsCustom(id) {
		for _, ext := range r.config.Extensions {
			path := filepath.Join(r.config.ModelDir, id+ext)
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		}
		return "", false
	}
	if IsStandard(id) {
		return id, true
	}
	return "", false
}

// IsLoaded reports whether a handle for id is cached
func (r *Registry) IsLoaded(id string) bool {
	_, ok := r.cached(id)
	return ok
}

// LoadedModels returns the ids of cached handles, sorted
func (r *Registry) LoadedModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.loaded))
	for id := range r.loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) cached(id string) (engine.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.loaded[id]
	return m, ok
}

func typeLabel(custom bool) string {
	if custom {
		return "custom"
	}
	return "standard"
}

// Status reports readiness. A valid model is ready even before it is loaded.
func (r *Registry) Status(id string) ModelStatus {
	if !r.IsValid(id) {
		return ModelStatus{
			Model:   id,
			Message: fmt.Sprintf("Invalid model name. Available models: %s", strings.Join(r.AvailableModels(), ", ")),
		}
	}

	isCustom := r.IsCustom(id)
	isLoaded := r.IsLoaded(id)
	kind := "Standard"
	if isCustom {
		kind = "Custom"
	}

	status := ModelStatus{
		Model:    id,
		IsReady:  true,
		IsLoaded: isLoaded,
		IsCustom: isCustom,
	}
	if isLoaded {
		status.Message = kind + " model is loaded and ready"
	} else {
		status.Message = kind + " model is available but not loaded yet"
	}

	return status
}

// Describe reports what is known about a model without loading it
func (r *Registry) Describe(id string) ModelInfo {
	if !r.IsValid(id) {
		return ModelInfo{
			Model:   id,
			Type:    typeLabel(false),
			Message: fmt.Sprintf("Model not found. Available models: %s", strings.Join(r.AvailableModels(), ", ")),
		}
	}

	isCustom := r.IsCustom(id)
	info := ModelInfo{
		Model:    id,
		Exists:   true,
		IsCustom: isCustom,
		IsLoaded: r.IsLoaded(id),
		Type:     typeLabel(isCustom),
	}

	if isCustom {
		if path, ok := r.ResolvePath(id); ok {
			info.FilePath = &path
			var size int64
			var modified float64
			if stat, err := os.Stat(path); err == nil {
				size = stat.Size()
				modified = float64(stat.ModTime().UnixNano()) / float64(time.Second)
			}
			info.FileSize = &size
			info.LastModified = &modified
		}
	}

	return info
}

// Load returns the cached handle for id, loading it at most once.
// Concurrent callers for the same id share a single loader call, and a
// failed load leaves the cache untouched so a later call can retry.
func (r *Registry) Load(ctx context.Context, id string) (engine.Model, error) {
	if !r.IsValid(id) {
		return nil, &InvalidModelError{Model: id, Available: r.AvailableModels()}
	}

	if m, ok := r.cached(id); ok {
		return m, nil
	}

	// The load outlives a cancelled requester so other waiters still get the handle
	loadCtx := context.WithoutCancel(ctx)

	v, err, shared := r.group.Do(id, func() (interface{}, error) {
		if m, ok := r.cached(id); ok {
			return m, nil
		}
		return r.load(loadCtx, id)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		r.logger.Debug("Model load shared between callers", slog.String("model", id))
	}

	return v.(engine.Model), nil
}

func (r *Registry) load(ctx context.Context, id string) (engine.Model, error) {
	req := engine.LoadRequest{
		ModelID:  id,
		CacheDir: r.config.CacheDir,
	}

	if r.IsCustom(id) {
		path, ok := r.ResolvePath(id)
		if !ok {
			return nil, &ModelLoadError{Model: id, Err: fmt.Errorf("custom model file not found: %s", id)}
		}
		req.Custom = true
		req.Path = path
		r.logger.Info("Loading custom model", slog.String("model", id), slog.String("path", path))
	} else {
		r.logger.Info("Loading standard model", slog.String("model", id), slog.String("cache_dir", r.config.CacheDir))
	}

	start := time.Now()
	model, err := r.loader.Load(ctx, req)
	duration := time.Since(start)

	if err != nil {
		r.metrics.RecordModelLoad(id, false, duration.Seconds())
		r.logger.Error("Failed to load model",
			slog.String("model", id),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, &ModelLoadError{Model: id, Err: err}
	}

	r.mu.Lock()
	r.loaded[id] = model
	count := len(r.loaded)
	r.mu.Unlock()

	r.metrics.RecordModelLoad(id, true, duration.Seconds())
	r.metrics.SetLoadedModels(count)
	r.logger.Info("Model loaded",
		slog.String("model", id),
		slog.String("type", typeLabel(req.Custom)),
		slog.Duration("duration", duration),
	)

	return model, nil
}

// Transcribe runs the engine for id on audioPath, loading the model if needed
func (r *Registry) Transcribe(ctx context.Context, audioPath, id, language string) (*Result, error) {
	model, err := r.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.config.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.TranscribeTimeout)
		defer cancel()
	}

	r.logger.Debug("Starting transcription",
		slog.String("model", id),
		slog.String("audio", audioPath),
		slog.String("language", language),
	)

	start := time.Now()
	out, err := model.Transcribe(ctx, audioPath, language)
	duration := time.Since(start)
	r.metrics.RecordTranscription(id, err == nil, duration.Seconds())

	if err != nil {
		r.logger.Error("Transcription failed",
			slog.String("model", id),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, &TranscriptionError{Model: id, Err: err}
	}
	if out == nil {
		return nil, &TranscriptionError{Model: id, Err: fmt.Errorf("engine returned no output")}
	}

	segments := out.Segments
	if segments == nil {
		segments = []engine.Segment{}
	}

	return &Result{
		Text:      strings.TrimSpace(out.Text),
		Language:  out.Language,
		Segments:  segments,
		ModelUsed: id,
	}, nil
}
