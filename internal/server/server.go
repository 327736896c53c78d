package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sivaratrisrinivas/TabTalk/internal/config"
	"github.com/sivaratrisrinivas/TabTalk/internal/metrics"
	"github.com/sivaratrisrinivas/TabTalk/internal/relay"
)

var ErrServerClosed = http.ErrServerClosed

// Server is the relay's HTTP surface: the websocket endpoint plus health and
// metrics.
type Server struct {
	log     *slog.Logger
	cfg     *config.ServerConfig
	hub     *relay.Hub
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
	mux      *http.ServeMux
	srv      *http.Server
}

func New(cfg *config.ServerConfig, hub *relay.Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		log:     logger,
		cfg:     cfg,
		hub:     hub,
		metrics: m,
		mux:     http.NewServeMux(),
	}
	s.upgrader = s.newUpgrader()

	s.mux.HandleFunc("GET /health", healthCheckHandler)
	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(m))
	s.mux.HandleFunc("GET /ws", s.serveWs)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           chain(s.mux, recoverMiddleware(s.log), requestIDMiddleware()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Serve(l net.Listener) error {
	s.log.Info("relay server serving", "addr", l.Addr().String(), "strict_rooms", s.cfg.StrictRooms)
	return s.srv.Serve(l)
}

// Shutdown stops accepting requests. Hijacked websocket connections are not
// tracked by net/http; stopping the hub closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r)
		})
	}
}
