package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/skypro1111/whisper-stream-service/internal/audio"
	"github.com/skypro1111/whisper-stream-service/internal/models"
)

// unsupportedFormatError is returned for uploads with a disallowed content type
type unsupportedFormatError struct {
	ContentType string
	Supported   []string
}

func (e *unsupportedFormatError) Error() string {
	return fmt.Sprintf("Unsupported audio format: %s", e.ContentType)
}

// fileTooLargeError is returned for uploads above the size limit
type fileTooLargeError struct {
	Size int64
	Max  int64
}

func (e *fileTooLargeError) Error() string {
	return fmt.Sprintf("File too large: %d bytes", e.Size)
}

// errorResponse is the JSON body of every API error
type errorResponse map[string]interface{}

func newErrorResponse(kind, message, details string) errorResponse {
	return errorResponse{
		"error":   kind,
		"message": message,
		"details": details,
	}
}

// classifyError maps an error to its status code and response body
func classifyError(err error) (int, errorResponse) {
	var (
		invalidModel    *models.InvalidModelError
		loadFailed      *models.ModelLoadError
		transcription   *models.TranscriptionError
		processing      *audio.ProcessingError
		unsupported     *unsupportedFormatError
		tooLarge        *fileTooLargeError
	)

	switch {
	case errors.As(err, &invalidModel):
		body := newErrorResponse("invalid_model",
			fmt.Sprintf("Invalid model: %s", invalidModel.Model),
			fmt.Sprintf("Available models: %s", strings.Join(invalidModel.Available, ", ")))
		body["invalid_model"] = invalidModel.Model
		body["available_models"] = invalidModel.Available
		return http.StatusBadRequest, body

	case errors.As(err, &unsupported):
		body := newErrorResponse("unsupported_audio_format", unsupported.Error(),
			fmt.Sprintf("Supported formats: %s", strings.Join(unsupported.Supported, ", ")))
		body["content_type"] = unsupported.ContentType
		body["supported_formats"] = unsupported.Supported
		return http.StatusBadRequest, body

	case errors.As(err, &tooLarge):
		body := newErrorResponse("file_too_large", tooLarge.Error(),
			fmt.Sprintf("Maximum allowed size: %d bytes", tooLarge.Max))
		body["file_size"] = tooLarge.Size
		body["max_size"] = tooLarge.Max
		return http.StatusRequestEntityTooLarge, body

	case errors.As(err, &loadFailed):
		body := newErrorResponse("model_load_failed",
			fmt.Sprintf("Failed to load model '%s'", loadFailed.Model), loadFailed.Err.Error())
		body["model"] = loadFailed.Model
		return http.StatusInternalServerError, body

	case errors.As(err, &transcription):
		return audioProcessingFailed("transcription", transcription.Err)

	case errors.As(err, &processing):
		return audioProcessingFailed(processing.Op, processing.Err)

	default:
		return http.StatusInternalServerError, newErrorResponse("internal_server_error", "Internal server error", err.Error())
	}
}

func audioProcessingFailed(operation string, cause error) (int, errorResponse) {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	body := newErrorResponse("audio_processing_failed",
		fmt.Sprintf("Audio processing failed during %s", operation), details)
	body["operation"] = operation
	return http.StatusInternalServerError, body
}

// writeError logs err and writes its JSON body
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classifyError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "Request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	writeJSON(w, status, body)
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeMessage writes a plain {"error","message"} body for routing errors
func writeMessage(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{"error": kind, "message": message})
}
