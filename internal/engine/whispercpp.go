package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultWhisperCli = "whisper-cli"

// WhisperCppLoader loads ggml model files for a local whisper-cli binary
type WhisperCppLoader struct {
	binaryPath string
	threads    int
	logger     *slog.Logger
}

// NewWhisperCppLoader creates a loader; binaryPath defaults to whisper-cli on PATH
func NewWhisperCppLoader(binaryPath string, threads int, logger *slog.Logger) *WhisperCppLoader {
	if binaryPath == "" {
		binaryPath = defaultWhisperCli
	}
	return &WhisperCppLoader{
		binaryPath: binaryPath,
		threads:    threads,
		logger:     logger,
	}
}

// StandardModelFile returns the ggml file name for a standard model id
func StandardModelFile(cacheDir, modelID string) string {
	return filepath.Join(cacheDir, "ggml-"+modelID+".bin")
}

// Load checks that both the executable and the model file are present
func (l *WhisperCppLoader) Load(ctx context.Context, req LoadRequest) (Model, error) {
	binary, err := exec.LookPath(l.binaryPath)
	if err != nil {
		return nil, fmt.Errorf("%s not found: install whisper.cpp first: %w", l.binaryPath, err)
	}

	modelPath := req.Path
	if !req.Custom {
		modelPath = StandardModelFile(req.CacheDir, req.ModelID)
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", modelPath, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("model file is empty: %s", modelPath)
	}

	l.logger.Debug("whisper.cpp model resolved",
		slog.String("model", req.ModelID),
		slog.String("path", modelPath),
		slog.Int64("size_bytes", info.Size()),
	)

	return &whisperCppModel{
		binary:    binary,
		modelPath: modelPath,
		threads:   l.threads,
		logger:    l.logger,
	}, nil
}

type whisperCppModel struct {
	binary    string
	modelPath string
	threads   int
	logger    *slog.Logger
}

// Transcribe runs whisper-cli once on audioPath and reads its JSON output file
func (m *whisperCppModel) Transcribe(ctx context.Context, audioPath, language string) (*Output, error) {
	outDir, err := os.MkdirTemp("", "whisper-out-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	outBase := filepath.Join(outDir, "result")

	lang := language
	if lang == "" {
		lang = "auto"
	}

	args := []string{
		"-m", m.modelPath,
		"-l", lang,
		"-np",
		"-oj",
		"-of", outBase,
		"-f", audioPath,
	}
	if m.threads > 0 {
		args = append(args, "-t", strconv.Itoa(m.threads))
	}

	cmd := exec.CommandContext(ctx, m.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("whisper-cli failed",
			slog.Duration("duration", duration),
			slog.String("stderr", strings.TrimSpace(stderr.String())),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("whisper-cli failed: %w", err)
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper-cli output: %w", err)
	}

	out, err := decodeWhisperCppOutput(data)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("whisper-cli transcription complete",
		slog.String("audio", audioPath),
		slog.Duration("duration", duration),
		slog.Int("segments", len(out.Segments)),
	)

	return out, nil
}
