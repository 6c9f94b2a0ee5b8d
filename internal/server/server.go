package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/treefix50/nowplaying/internal/metrics"
	"github.com/treefix50/nowplaying/internal/notify"
	"github.com/treefix50/nowplaying/internal/playback"
)

const shutdownTimeout = 3 * time.Second

// StateSource is the read side of the playback store.
type StateSource interface {
	Snapshot() playback.Snapshot
	Cover() (playback.Cover, bool)
}

// Commander relays a named transport command to the receiver.
type Commander interface {
	Send(ctx context.Context, name string) (string, error)
}

type Options struct {
	Addr               string
	CORS               bool
	KeepAlive          time.Duration
	ControlMinInterval time.Duration

	State   StateSource
	Hub     *notify.Hub
	Control Commander
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

type Server struct {
	addr      string
	state     StateSource
	hub       *notify.Hub
	control   Commander
	metrics   *metrics.Metrics
	keepAlive time.Duration
	limiter   *RateLimiter
	log       zerolog.Logger

	http       *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func New(opts Options) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:       opts.Addr,
		state:      opts.State,
		hub:        opts.Hub,
		control:    opts.Control,
		metrics:    opts.Metrics,
		keepAlive:  opts.KeepAlive,
		limiter:    NewRateLimiter(opts.ControlMinInterval),
		log:        opts.Logger.With().Str("component", "http").Logger(),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	if s.keepAlive <= 0 {
		s.keepAlive = notify.DefaultKeepAlive
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.handleIndex())
	mux.Handle("GET /static/", s.handleStatic())
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/cover", s.handleCover)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/control", s.handleListCommands)
	mux.HandleFunc("POST /api/control/{command}", s.handleControl)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           logMiddleware(corsMiddleware(mux, opts.CORS), s.log),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	return s
}

// Handler exposes the routed handler chain, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start listens until Close is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ends live view streams and shuts the listener down.
func (s *Server) Close() error {
	// streams are long-lived; cancel them so Shutdown does not wait on them
	s.cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", textContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}
