package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// outputSchema describes the JSON body returned by whisper-style HTTP servers
var outputSchema = gojsonschema.NewGoLoader(map[string]interface{}{
	"type":     "object",
	"required": []string{"text"},
	"properties": map[string]interface{}{
		"text":     map[string]interface{}{"type": "string"},
		"language": map[string]interface{}{"type": "string"},
		"segments": map[string]interface{}{
			"type": []string{"array", "null"},
			"items": map[string]interface{}{
				"type":     "object",
				"required": []string{"start", "end", "text"},
				"properties": map[string]interface{}{
					"id":    map[string]interface{}{"type": "integer"},
					"start": map[string]interface{}{"type": "number"},
					"end":   map[string]interface{}{"type": "number"},
					"text":  map[string]interface{}{"type": "string"},
				},
			},
		},
	},
})

// whisperCppSchema describes the file written by `whisper-cli -oj`
var whisperCppSchema = gojsonschema.NewGoLoader(map[string]interface{}{
	"type":     "object",
	"required": []string{"transcription"},
	"properties": map[string]interface{}{
		"result": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"language": map[string]interface{}{"type": "string"},
			},
		},
		"transcription": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":     "object",
				"required": []string{"offsets", "text"},
				"properties": map[string]interface{}{
					"text": map[string]interface{}{"type": "string"},
					"offsets": map[string]interface{}{
						"type":     "object",
						"required": []string{"from", "to"},
						"properties": map[string]interface{}{
							"from": map[string]interface{}{"type": "integer"},
							"to":   map[string]interface{}{"type": "integer"},
						},
					},
				},
			},
		},
	},
})

// validate checks data against schema and joins every violation into one error
func validate(schema gojsonschema.JSONLoader, data []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		violations := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			violations[i] = e.String()
		}
		return fmt.Errorf("engine output does not match schema: %s", strings.Join(violations, "; "))
	}

	return nil
}

// DecodeOutput validates and decodes a whisper-style JSON response
func DecodeOutput(data []byte) (*Output, error) {
	if err := validate(outputSchema, data); err != nil {
		return nil, err
	}

	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse engine output: %w", err)
	}
	if out.Segments == nil {
		out.Segments = []Segment{}
	}

	return &out, nil
}

type whisperCppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// decodeWhisperCppOutput converts whisper-cli JSON into an Output.
// Offsets are milliseconds.
func decodeWhisperCppOutput(data []byte) (*Output, error) {
	if err := validate(whisperCppSchema, data); err != nil {
		return nil, err
	}

	var raw whisperCppOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse whisper-cli output: %w", err)
	}

	out := &Output{
		Language: raw.Result.Language,
		Segments: make([]Segment, 0, len(raw.Transcription)),
	}

	var text strings.Builder
	for i, seg := range raw.Transcription {
		text.WriteString(seg.Text)
		out.Segments = append(out.Segments, Segment{
			ID:    i,
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  seg.Text,
		})
	}
	out.Text = text.String()

	return out, nil
}
