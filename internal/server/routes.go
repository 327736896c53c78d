package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sivaratrisrinivas/TabTalk/internal/relay"
)

func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.cfg.AllowsOrigin(r.Header.Get("Origin"))
		},
	}
}

// serveWs upgrades the request and hands the connection to the hub.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := relay.NewClient(s.hub, conn)
	if err := s.hub.Register(client); err != nil {
		s.log.Warn("rejecting connection", "remote", r.RemoteAddr, "error", err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}
