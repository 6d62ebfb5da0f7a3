package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/openclaw/launcher/pkg/orchestrator"
)

var upgrader = websocket.Upgrader{
	// The operator endpoint has token auth; origin checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleLogStream serves a live log follow. A websocket upgrade request gets
// one frame per line; anything else gets a server-sent event stream with
// intermediary buffering disabled. Both forms end when the container exits
// or the client goes away.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	name := orchestrator.ContainerName(chi.URLParam(r, "id"))

	if websocket.IsWebSocketUpgrade(r) {
		s.streamWebsocket(w, r, name)
		return
	}
	s.streamSSE(w, r, name)
}

// wsSink sends each log line as one text frame.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(line string) error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (s *Server) streamWebsocket(w http.ResponseWriter, r *http.Request, name string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		return
	}
	defer conn.Close()

	// Reads are discarded, but the pump is what detects a closed peer.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	if err := s.streamer.Stream(ctx, name, &wsSink{conn: conn}); err != nil {
		s.logger.Debug().Err(err).Str("container", name).Msg("websocket stream ended")
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// sseSink writes each log line as one data record and flushes immediately.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(line string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", line); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, name string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := s.streamer.Stream(r.Context(), name, &sseSink{w: w, flusher: flusher}); err != nil {
		s.logger.Debug().Err(err).Str("container", name).Msg("sse stream ended")
	}
}
