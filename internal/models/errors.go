package models

import (
	"fmt"
	"strings"
)

// InvalidModelError is returned when a model id is neither standard nor a custom file
type InvalidModelError struct {
	Model     string
	Available []string
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("Invalid model: %s. Available models: %s", e.Model, strings.Join(e.Available, ", "))
}

// ModelLoadError wraps a loader failure
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("Failed to load model '%s': %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// TranscriptionError wraps an engine failure during transcription
type TranscriptionError struct {
	Model string
	Err   error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("Transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}
