package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/whisper-stream-service/internal/engine"
)

// DefaultPath is where the service looks for a config file when none is given
const DefaultPath = "configs/config.yaml"

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Models    ModelsConfig    `yaml:"models"`
	Engine    EngineConfig    `yaml:"engine"`
	Streaming StreamingConfig `yaml:"streaming"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server and upload settings
type ServerConfig struct {
	AppName             string   `yaml:"app_name"`
	Version             string   `yaml:"version"`
	Host                string   `yaml:"host"`
	Port                int      `yaml:"port"`
	MaxFileSize         int64    `yaml:"max_file_size"` // bytes
	AllowedAudioFormats []string `yaml:"allowed_audio_formats"`
	ShutdownTimeout     int      `yaml:"shutdown_timeout"` // seconds
}

// ModelsConfig contains model registry settings
type ModelsConfig struct {
	Dir             string   `yaml:"dir"`
	CacheDir        string   `yaml:"cache_dir"` // standard model files; defaults to Dir
	Extensions      []string `yaml:"extensions"`
	DefaultModel    string   `yaml:"default_model"`
	DefaultLanguage string   `yaml:"default_language"`
}

// EngineConfig selects and configures the transcription backend
type EngineConfig struct {
	Backend       string `yaml:"backend"`
	BinaryPath    string `yaml:"binary_path"`
	Threads       int    `yaml:"threads"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds, 0 = no timeout
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// StreamingConfig contains streaming connection parameters
type StreamingConfig struct {
	ChunkDuration     float64 `yaml:"chunk_duration"` // seconds
	DefaultSampleRate int     `yaml:"default_sample_rate"`
	MaxBufferBytes    int     `yaml:"max_buffer_bytes"` // 0 = unbounded
	MaxStreams        int     `yaml:"max_streams"`      // 0 = unlimited
	IdleTimeout       int     `yaml:"idle_timeout"`     // seconds, 0 = never
	MinChunkBytes     int     `yaml:"min_chunk_bytes"`
	MinFinalBytes     int     `yaml:"min_final_bytes"`
	TempDir           string  `yaml:"temp_dir"`
}

// StorageConfig contains transcript history settings
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	ListLimit int    `yaml:"list_limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AppName:             "Whisper Streaming Transcription API",
			Version:             "2.0.0",
			Host:                "0.0.0.0",
			Port:                8000,
			MaxFileSize:         25 * 1024 * 1024,
			AllowedAudioFormats: []string{"audio/wav", "audio/mp3", "audio/mp4", "audio/m4a", "audio/flac"},
			ShutdownTimeout:     10,
		},
		Models: ModelsConfig{
			Dir:             "models/whisper",
			Extensions:      []string{".pt"},
			DefaultModel:    "base",
			DefaultLanguage: "ja",
		},
		Engine: EngineConfig{
			Backend:       engine.BackendWhisperCpp,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Streaming: StreamingConfig{
			ChunkDuration:     2.0,
			DefaultSampleRate: 16000,
			MinChunkBytes:     1000,
			MinFinalBytes:     100,
		},
		Storage: StorageConfig{
			Enabled:   true,
			Path:      "data/transcripts",
			ListLimit: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults, .env and the environment are used.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides values from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("APP_NAME", &c.Server.AppName)
	str("VERSION", &c.Server.Version)
	str("HOST", &c.Server.Host)
	str("MODEL_CACHE_DIR", &c.Models.Dir)
	str("DEFAULT_MODEL", &c.Models.DefaultModel)
	str("DEFAULT_LANGUAGE", &c.Models.DefaultLanguage)
	str("ENGINE_BACKEND", &c.Engine.Backend)
	str("ENGINE_ENDPOINT", &c.Engine.Endpoint)
	str("ENGINE_API_KEY", &c.Engine.APIKey)
	str("WHISPER_CLI_PATH", &c.Engine.BinaryPath)
	str("STORAGE_PATH", &c.Storage.Path)

	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	if v, ok := lookup("ALLOWED_AUDIO_FORMATS"); ok && v != "" {
		formats := make([]string, 0)
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				formats = append(formats, f)
			}
		}
		c.Server.AllowedAudioFormats = formats
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got '%s'", v)
		}
		c.Server.Port = port
	}

	if v, ok := lookup("MAX_FILE_SIZE"); ok && v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_FILE_SIZE must be an integer, got '%s'", v)
		}
		c.Server.MaxFileSize = size
	}

	if v, ok := lookup("CHUNK_DURATION"); ok && v != "" {
		duration, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CHUNK_DURATION must be a number, got '%s'", v)
		}
		c.Streaming.ChunkDuration = duration
	}

	if v, ok := lookup("DEFAULT_SAMPLE_RATE"); ok && v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DEFAULT_SAMPLE_RATE must be an integer, got '%s'", v)
		}
		c.Streaming.DefaultSampleRate = rate
	}

	if v, ok := lookup("DEBUG"); ok && strings.EqualFold(v, "true") {
		c.Logging.Level = "debug"
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Models.Validate(); err != nil {
		return fmt.Errorf("models config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Streaming.Validate(); err != nil {
		return fmt.Errorf("streaming config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if s.MaxFileSize < 1 {
		return fmt.Errorf("max_file_size must be positive, got %d", s.MaxFileSize)
	}

	if len(s.AllowedAudioFormats) == 0 {
		return fmt.Errorf("allowed_audio_formats cannot be empty")
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates model registry configuration
func (m *ModelsConfig) Validate() error {
	if m.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if m.DefaultModel == "" {
		return fmt.Errorf("default_model cannot be empty")
	}

	for _, ext := range m.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("extension must look like '.pt', got '%s'", ext)
		}
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	switch e.Backend {
	case engine.BackendWhisperCpp, engine.BackendOpenAI:
	case engine.BackendRemote:
		if e.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the %s backend", e.Backend)
		}
	default:
		return fmt.Errorf("backend must be one of [%s, %s, %s], got '%s'",
			engine.BackendWhisperCpp, engine.BackendOpenAI, engine.BackendRemote, e.Backend)
	}

	if e.Threads < 0 {
		return fmt.Errorf("threads cannot be negative, got %d", e.Threads)
	}

	if e.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", e.Timeout)
	}

	if e.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", e.MaxRetries)
	}

	if e.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", e.MaxConcurrent)
	}

	return nil
}

// Validate validates streaming configuration
func (s *StreamingConfig) Validate() error {
	if s.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", s.ChunkDuration)
	}

	if s.DefaultSampleRate < 1 || s.DefaultSampleRate > 384000 {
		return fmt.Errorf("default_sample_rate must be between 1 and 384000 Hz, got %d", s.DefaultSampleRate)
	}

	if s.MaxBufferBytes < 0 {
		return fmt.Errorf("max_buffer_bytes cannot be negative, got %d", s.MaxBufferBytes)
	}

	if s.MaxStreams < 0 {
		return fmt.Errorf("max_streams cannot be negative, got %d", s.MaxStreams)
	}

	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", s.IdleTimeout)
	}

	if s.MinChunkBytes < 0 || s.MinFinalBytes < 0 {
		return fmt.Errorf("min_chunk_bytes and min_final_bytes cannot be negative")
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Enabled && s.Path == "" {
		return fmt.Errorf("path cannot be empty when storage is enabled")
	}

	if s.ListLimit < 1 {
		return fmt.Errorf("list_limit must be at least 1, got %d", s.ListLimit)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// anything other than stdout/stderr is treated as a file path
	return nil
}

// Address returns host:port for the HTTP listener
func (s *ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// GetShutdownTimeoutDuration returns the graceful shutdown timeout as a time.Duration
func (s *ServerConfig) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetModelCacheDir returns where standard model files live
func (m *ModelsConfig) GetModelCacheDir() string {
	if m.CacheDir == "" {
		return m.Dir
	}
	return m.CacheDir
}

// GetTimeoutDuration returns the engine timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetIdleTimeoutDuration returns the stream idle timeout as a time.Duration
func (s *StreamingConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}
