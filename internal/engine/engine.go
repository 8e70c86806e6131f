package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted by NewLoader
const (
	BackendWhisperCpp = "whispercpp"
	BackendOpenAI     = "openai"
	BackendRemote     = "remote"
)

// Segment is one timed span of transcribed text
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Output is the fixed result shape every backend must produce
type Output struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// LoadRequest describes which model to load.
// Custom models carry a file path; standard models are loaded by name from CacheDir.
type LoadRequest struct {
	ModelID  string
	Path     string
	Custom   bool
	CacheDir string
}

// Model is a loaded, ready-to-use transcription handle
type Model interface {
	Transcribe(ctx context.Context, audioPath, language string) (*Output, error)
}

// Loader loads model handles. Implementations may be slow.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (Model, error)
}

// LoaderFunc adapts a function to the Loader interface
type LoaderFunc func(ctx context.Context, req LoadRequest) (Model, error)

// Load calls f(ctx, req)
func (f LoaderFunc) Load(ctx context.Context, req LoadRequest) (Model, error) {
	return f(ctx, req)
}

// Config contains engine backend configuration
type Config struct {
	Backend       string
	BinaryPath    string // whisper-cli executable
	Threads       int
	Endpoint      string // base URL for openai/remote backends
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// NewLoader creates the loader for the configured backend
func NewLoader(cfg Config, logger *slog.Logger) (Loader, error) {
	switch cfg.Backend {
	case BackendWhisperCpp, "":
		return NewWhisperCppLoader(cfg.BinaryPath, cfg.Threads, logger), nil
	case BackendOpenAI:
		return NewOpenAILoader(cfg.Endpoint, cfg.APIKey, logger), nil
	case BackendRemote:
		client, err := NewClient(ClientConfig{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Timeout:       cfg.Timeout,
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrent,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create remote engine client: %w", err)
		}
		return NewRemoteLoader(client, logger), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
	}
}
