package protocol

import (
	"github.com/skypro1111/whisper-stream-service/internal/engine"
)

// Message types
const (
	TypeReady     = "ready"
	TypeAudioInfo = "audio_info"
	TypePartial   = "partial"
	TypeFinal     = "final"
	TypeError     = "error"
	TypeEnd       = "end"
)

// ReadyMessage tells the client it may start sending audio
type ReadyMessage struct {
	Type string `json:"type"`
}

// AudioInfoMessage announces the PCM format of subsequent binary frames
type AudioInfoMessage struct {
	Type        string `json:"type"`
	SampleRate  uint32 `json:"sample_rate"`
	Channels    int    `json:"channels"`
	SampleWidth int    `json:"sample_width"`
}

// PartialMessage carries the transcription of one chunk
type PartialMessage struct {
	Type    string  `json:"type"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	ChunkID uint64  `json:"chunk_id"`
}

// FinalMessage carries the end-of-stream result
type FinalMessage struct {
	Type      string           `json:"type"`
	Text      string           `json:"text"`
	Language  string           `json:"language"`
	Segments  []engine.Segment `json:"segments"`
	ModelUsed string           `json:"model_used"`
}

// ErrorMessage reports a problem in-band
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EndMessage is sent by the client after the last audio frame
type EndMessage struct {
	Type string `json:"type"`
}

// NewReady creates a ready message
func NewReady() ReadyMessage {
	return ReadyMessage{Type: TypeReady}
}

// NewPartial creates a partial message
func NewPartial(text string, start, end float64, chunkID uint64) PartialMessage {
	return PartialMessage{
		Type:    TypePartial,
		Text:    text,
		Start:   start,
		End:     end,
		ChunkID: chunkID,
	}
}

// NewFinal creates a final message; nil segments are sent as an empty list
func NewFinal(text, language string, segments []engine.Segment, modelUsed string) FinalMessage {
	if segments == nil {
		segments = []engine.Segment{}
	}
	return FinalMessage{
		Type:      TypeFinal,
		Text:      text,
		Language:  language,
		Segments:  segments,
		ModelUsed: modelUsed,
	}
}

// NewError creates an error message
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// NewAudioInfo creates an audio_info message, as sent by clients
func NewAudioInfo(sampleRate uint32, channels, sampleWidth int) AudioInfoMessage {
	return AudioInfoMessage{
		Type:        TypeAudioInfo,
		SampleRate:  sampleRate,
		Channels:    channels,
		SampleWidth: sampleWidth,
	}
}

// NewEnd creates an end message, as sent by clients
func NewEnd() EndMessage {
	return EndMessage{Type: TypeEnd}
}
