package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/treefix50/nowplaying/internal/notify"
	"github.com/treefix50/nowplaying/internal/playback"
)

const wsWriteWait = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the dashboard may be served from another host when CORS is enabled
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink writes snapshots as JSON text frames and keeps the peer alive with pings.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(snap playback.Snapshot) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(snap)
}

func (s *wsSink) KeepAlive() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.With().Str("stream", "ws").Str("conn", uuid.NewString()).Logger()
	log.Debug().Str("remote", r.RemoteAddr).Msg("viewer connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so control frames are processed; a read error
	// means the peer is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = notify.Stream(ctx, s.hub, s.keepAlive, &wsSink{conn: conn})
	if err != nil && ctx.Err() == nil && !errors.Is(err, notify.ErrHubClosed) {
		log.Debug().Err(err).Msg("viewer write failed")
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	log.Debug().Msg("viewer disconnected")
}
