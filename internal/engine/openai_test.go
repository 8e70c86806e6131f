package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIModelTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "large-v3", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "ja", r.FormValue("language"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"task": "transcribe",
			"language": "japanese",
			"duration": 2.0,
			"text": "テスト",
			"segments": [{"id": 0, "seek": 0, "start": 0.0, "end": 2.0, "text": "テスト", "tokens": [1, 2]}]
		}`)
	}))
	defer server.Close()

	loader, err := NewLoader(Config{Backend: BackendOpenAI, Endpoint: server.URL + "/v1", APIKey: "sk-test"}, testLogger())
	require.NoError(t, err)

	model, err := loader.Load(context.Background(), LoadRequest{ModelID: "large-v3", CacheDir: "unused"})
	require.NoError(t, err)

	out, err := model.Transcribe(context.Background(), writeAudioFile(t), "ja")
	require.NoError(t, err)
	assert.Equal(t, "テスト", out.Text)
	assert.Equal(t, "japanese", out.Language)
	require.Len(t, out.Segments, 1)
	assert.Equal(t, 2.0, out.Segments[0].End)
}

func TestOpenAIModelServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"engine crashed","type":"server_error"}}`)
	}))
	defer server.Close()

	loader := NewOpenAILoader(server.URL, "sk-test", testLogger())
	model, err := loader.Load(context.Background(), LoadRequest{ModelID: "base"})
	require.NoError(t, err)

	_, err = model.Transcribe(context.Background(), writeAudioFile(t), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai transcription")
}
