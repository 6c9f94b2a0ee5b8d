package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/treefix50/nowplaying/internal/notify"
	"github.com/treefix50/nowplaying/internal/playback"
)

// sseSink writes snapshots as server-sent events.
type sseSink struct {
	w       io.Writer
	flusher http.Flusher
}

func (s *sseSink) Send(snap playback.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("server: encode snapshot: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) KeepAlive() error {
	if _, err := io.WriteString(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", sseContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := s.log.With().Str("stream", "sse").Str("conn", uuid.NewString()).Logger()
	log.Debug().Str("remote", r.RemoteAddr).Msg("viewer connected")

	err := notify.Stream(r.Context(), s.hub, s.keepAlive, &sseSink{w: w, flusher: flusher})
	if err != nil && r.Context().Err() == nil && !errors.Is(err, notify.ErrHubClosed) {
		log.Debug().Err(err).Msg("viewer write failed")
	}
	log.Debug().Msg("viewer disconnected")
}
