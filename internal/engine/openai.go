package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAILoader binds model ids to an OpenAI-compatible transcription API
type OpenAILoader struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAILoader creates a loader. An empty baseURL targets api.openai.com.
func NewOpenAILoader(baseURL, apiKey string, logger *slog.Logger) *OpenAILoader {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAILoader{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// Load returns a handle bound to the model id; the server owns the weights,
// so custom models are addressed by id as well.
func (l *OpenAILoader) Load(ctx context.Context, req LoadRequest) (Model, error) {
	if req.ModelID == "" {
		return nil, fmt.Errorf("model id cannot be empty")
	}
	return &openAIModel{client: l.client, model: req.ModelID, logger: l.logger}, nil
}

type openAIModel struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func (m *openAIModel) Transcribe(ctx context.Context, audioPath, language string) (*Output, error) {
	req := openai.AudioRequest{
		Model:    m.model,
		FilePath: audioPath,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	start := time.Now()
	resp, err := m.client.CreateTranscription(ctx, req)
	duration := time.Since(start)

	if err != nil {
		m.logger.Warn("openai transcription failed",
			slog.String("model", m.model),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	out := &Output{
		Text:     resp.Text,
		Language: resp.Language,
		Segments: make([]Segment, 0, len(resp.Segments)),
	}
	for _, seg := range resp.Segments {
		out.Segments = append(out.Segments, Segment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	m.logger.Debug("openai transcription complete",
		slog.String("model", m.model),
		slog.Duration("duration", duration),
		slog.Int("segments", len(out.Segments)),
	)

	return out, nil
}
