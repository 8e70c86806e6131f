package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// InvalidJSONMessage is sent back when a control frame is not valid JSON
const InvalidJSONMessage = "Invalid JSON in control message"

var controlSchema = gojsonschema.NewGoLoader(map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"type":         map[string]interface{}{"type": "string"},
		"sample_rate":  map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 384000},
		"channels":     map[string]interface{}{"type": "integer", "minimum": 1},
		"sample_width": map[string]interface{}{"type": "integer", "minimum": 1},
	},
})

// Error is a malformed control frame. The stream survives it.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClientMessage is the text sent to the peer in the error message
func (e *Error) ClientMessage() string {
	if e.Reason == "invalid json" {
		return InvalidJSONMessage
	}
	return "Invalid control message: " + e.Err.Error()
}

// Control is a decoded client control frame.
// AudioInfo is set only for audio_info frames; its SampleRate is 0 when omitted.
type Control struct {
	Type      string
	AudioInfo *AudioInfoMessage
}

// ParseControl decodes a text frame. Unknown types are returned as-is so the
// caller can ignore them.
func ParseControl(data []byte) (*Control, error) {
	if !json.Valid(data) {
		return nil, &Error{Reason: "invalid json", Err: fmt.Errorf("%d bytes of malformed JSON", len(data))}
	}

	result, err := gojsonschema.Validate(controlSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &Error{Reason: "invalid json", Err: err}
	}
	if !result.Valid() {
		violations := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			violations[i] = e.String()
		}
		return nil, &Error{Reason: "schema violation", Err: fmt.Errorf("%s", strings.Join(violations, "; "))}
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &Error{Reason: "invalid json", Err: err}
	}

	control := &Control{Type: envelope.Type}

	if envelope.Type == TypeAudioInfo {
		info, err := decodeAudioInfo(data)
		if err != nil {
			return nil, &Error{Reason: "schema violation", Err: err}
		}
		control.AudioInfo = info
	}

	return control, nil
}

// audioInfoWire keeps the numbers as JSON text: the schema accepts integral
// floats such as 44100.0, which encoding/json refuses to put in an int.
type audioInfoWire struct {
	Type        string      `json:"type"`
	SampleRate  json.Number `json:"sample_rate"`
	Channels    json.Number `json:"channels"`
	SampleWidth json.Number `json:"sample_width"`
}

func decodeAudioInfo(data []byte) (*AudioInfoMessage, error) {
	var wire audioInfoWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}

	sampleRate, err := integerField("sample_rate", wire.SampleRate)
	if err != nil {
		return nil, err
	}
	channels, err := integerField("channels", wire.Channels)
	if err != nil {
		return nil, err
	}
	sampleWidth, err := integerField("sample_width", wire.SampleWidth)
	if err != nil {
		return nil, err
	}

	return &AudioInfoMessage{
		Type:        wire.Type,
		SampleRate:  uint32(sampleRate),
		Channels:    int(channels),
		SampleWidth: int(sampleWidth),
	}, nil
}

// integerField converts a schema-checked number; absent fields are 0
func integerField(name string, n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < 0 || f > math.MaxUint32 {
		return 0, fmt.Errorf("%s: %s is not a valid integer", name, n)
	}
	return int64(f), nil
}
