package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/skypro1111/whisper-stream-service/internal/engine"
)

func TestParseControl(t *testing.T) {
	tests := []struct {
		name           string
		data           string
		expectError    bool
		expectType     string
		expectRate     uint32
		expectClientEr string
	}{
		{
			name:       "end",
			data:       `{"type":"end"}`,
			expectType: TypeEnd,
		},
		{
			name:       "audio info",
			data:       `{"type":"audio_info","sample_rate":44100,"channels":1,"sample_width":2}`,
			expectType: TypeAudioInfo,
			expectRate: 44100,
		},
		{
			name:       "integral float rate",
			data:       `{"type":"audio_info","sample_rate":44100.0,"channels":1.0,"sample_width":2}`,
			expectType: TypeAudioInfo,
			expectRate: 44100,
		},
		{
			name:       "exponent rate",
			data:       `{"type":"audio_info","sample_rate":4.8e4}`,
			expectType: TypeAudioInfo,
			expectRate: 48000,
		},
		{
			name:        "fractional rate",
			data:        `{"type":"audio_info","sample_rate":44100.5}`,
			expectError: true,
		},
		{
			name:       "audio info without rate",
			data:       `{"type":"audio_info"}`,
			expectType: TypeAudioInfo,
			expectRate: 0,
		},
		{
			name:       "unknown type is passed through",
			data:       `{"type":"ping"}`,
			expectType: "ping",
		},
		{
			name:       "missing type",
			data:       `{"hello":"world"}`,
			expectType: "",
		},
		{
			name:           "malformed json",
			data:           `{"type":`,
			expectError:    true,
			expectClientEr: InvalidJSONMessage,
		},
		{
			name:           "plain text",
			data:           `end`,
			expectError:    true,
			expectClientEr: InvalidJSONMessage,
		},
		{
			name:        "array instead of object",
			data:        `["end"]`,
			expectError: true,
		},
		{
			name:        "sample rate wrong type",
			data:        `{"type":"audio_info","sample_rate":"fast"}`,
			expectError: true,
		},
		{
			name:        "sample rate zero",
			data:        `{"type":"audio_info","sample_rate":0}`,
			expectError: true,
		},
		{
			name:        "type not a string",
			data:        `{"type":7}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			control, err := ParseControl([]byte(tt.data))

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				var protoErr *Error
				if !errors.As(err, &protoErr) {
					t.Fatalf("Expected *Error, got %T", err)
				}
				if tt.expectClientEr != "" && protoErr.ClientMessage() != tt.expectClientEr {
					t.Errorf("Expected client message '%s', got '%s'", tt.expectClientEr, protoErr.ClientMessage())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if control.Type != tt.expectType {
				t.Errorf("Expected type '%s', got '%s'", tt.expectType, control.Type)
			}
			if tt.expectType == TypeAudioInfo {
				if control.AudioInfo == nil {
					t.Fatal("Expected audio info to be decoded")
				}
				if control.AudioInfo.SampleRate != tt.expectRate {
					t.Errorf("Expected sample rate %d, got %d", tt.expectRate, control.AudioInfo.SampleRate)
				}
			} else if control.AudioInfo != nil {
				t.Errorf("Expected no audio info for type '%s'", control.Type)
			}
		})
	}
}

func TestSchemaViolationClientMessage(t *testing.T) {
	_, err := ParseControl([]byte(`{"type":"audio_info","sample_rate":"fast"}`))

	var protoErr *Error
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected *Error, got %v", err)
	}
	if protoErr.Reason != "schema violation" {
		t.Errorf("Expected reason 'schema violation', got '%s'", protoErr.Reason)
	}
	if got := protoErr.ClientMessage(); len(got) == 0 || got == InvalidJSONMessage {
		t.Errorf("Expected a schema specific client message, got '%s'", got)
	}
}

func TestMessageEncoding(t *testing.T) {
	tests := []struct {
		name     string
		message  interface{}
		expected string
	}{
		{
			name:     "ready",
			message:  NewReady(),
			expected: `{"type":"ready"}`,
		},
		{
			name:     "partial",
			message:  NewPartial("こんにちは", 2.0, 4.0, 1),
			expected: `{"type":"partial","text":"こんにちは","start":2,"end":4,"chunk_id":1}`,
		},
		{
			name:     "final without segments",
			message:  NewFinal(" a b", "unknown", nil, "base"),
			expected: `{"type":"final","text":" a b","language":"unknown","segments":[],"model_used":"base"}`,
		},
		{
			name:     "final with segments",
			message:  NewFinal("hi", "en", []engine.Segment{{ID: 0, Start: 0, End: 1.5, Text: "hi"}}, "tiny"),
			expected: `{"type":"final","text":"hi","language":"en","segments":[{"id":0,"start":0,"end":1.5,"text":"hi"}],"model_used":"tiny"}`,
		},
		{
			name:     "error",
			message:  NewError(InvalidJSONMessage),
			expected: `{"type":"error","message":"Invalid JSON in control message"}`,
		},
		{
			name:     "audio info",
			message:  NewAudioInfo(16000, 1, 2),
			expected: `{"type":"audio_info","sample_rate":16000,"channels":1,"sample_width":2}`,
		},
		{
			name:     "end",
			message:  NewEnd(),
			expected: `{"type":"end"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.message)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(data))
			}
		})
	}
}

func TestClientFramesRoundTripThroughParser(t *testing.T) {
	data, _ := json.Marshal(NewAudioInfo(8000, 1, 2))

	control, err := ParseControl(data)
	if err != nil {
		t.Fatalf("ParseControl failed: %v", err)
	}
	if control.AudioInfo.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", control.AudioInfo.SampleRate)
	}
}
