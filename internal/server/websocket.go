package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/whisper-stream-service/internal/stream"
)

const (
	maxFrameBytes = 16 << 20
	writeWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsTransport adapts a WebSocket connection to stream.Transport
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(maxFrameBytes)
	return &wsTransport{conn: conn}
}

// ReadFrame returns the next data frame; control frames are handled by the library
func (t *wsTransport) ReadFrame() (stream.FrameKind, []byte, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}

		switch messageType {
		case websocket.BinaryMessage:
			return stream.FrameBinary, data, nil
		case websocket.TextMessage:
			return stream.FrameText, data, nil
		}
	}
}

func (t *wsTransport) WriteJSON(v interface{}) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

// Close sends a normal close frame (best effort) and closes the connection once
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// handleStreamTranscribe upgrades the connection and hands it to the stream protocol
func (h *HTTPServer) handleStreamTranscribe(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	model := query.Get("model")
	if model == "" {
		model = h.config.Models.DefaultModel
	}
	language := query.Get("language")
	if language == "" {
		language = h.config.Models.DefaultLanguage
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("Streaming connection accepted",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("model", model),
		slog.String("language", language),
	)

	state := h.protocol.Serve(r.Context(), newWSTransport(conn), model, language)

	h.logger.Debug("Streaming connection finished",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("state", state.String()),
	)
}
