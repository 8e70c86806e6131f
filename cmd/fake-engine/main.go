// Command fake-engine is a stand-in for a remote whisper server. It answers
// the multipart requests of the "remote" engine backend with canned text,
// which is enough to exercise the service end to end without a model.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/skypro1111/whisper-stream-service/internal/audio"
	"github.com/skypro1111/whisper-stream-service/internal/engine"
)

var (
	addr     string
	text     string
	language string
	delay    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "fake-engine",
	Short: "Serve canned transcriptions for the remote engine backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":9000", "Listen address")
	rootCmd.Flags().StringVar(&text, "text", "this is a test transcription", "Text returned for every request")
	rootCmd.Flags().StringVar(&language, "language", "en", "Language returned when the request names none")
	rootCmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "Simulated processing time")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	r := mux.NewRouter()
	r.HandleFunc("/transcribe", transcribeHandler(logger)).Methods(http.MethodPost)

	logger.Info("Fake engine starting",
		slog.String("address", addr),
		slog.String("endpoint", fmt.Sprintf("http://localhost%s/transcribe", addr)),
	)

	return http.ListenAndServe(addr, r)
}

func transcribeHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		lang := r.FormValue("language")
		if lang == "" {
			lang = language
		}
		duration := wavDuration(data)

		logger.Info("Transcription request",
			slog.String("model", r.FormValue("model")),
			slog.String("language", lang),
			slog.String("filename", header.Filename),
			slog.Int("size", len(data)),
			slog.Float64("duration", duration),
		)

		time.Sleep(delay)

		out := engine.Output{
			Text:     text,
			Language: lang,
			Segments: []engine.Segment{{ID: 0, Start: 0, End: duration, Text: text}},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func wavDuration(data []byte) float64 {
	info, err := audio.GetWAVInfo(data)
	if err != nil {
		return 0
	}
	return info.Duration
}
