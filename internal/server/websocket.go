package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vitalcam/vitals-server/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// handleStatusSocket upgrades the connection and streams broadcast status
// messages until the client disconnects.
func (s *Server) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Server", "WebSocket upgrade failed: %v", err)
		return
	}

	id, messages := s.bcast.Register()
	s.metrics.BroadcastClients.Add(1)
	defer func() {
		s.bcast.Unregister(id)
		s.metrics.BroadcastClients.Add(^uint64(0))
		conn.Close()
	}()

	// Reader goroutine: we never expect client messages, but reading is what
	// surfaces the close frame and keeps pong handling alive.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-messages:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the broadcaster for falling behind.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			s.metrics.BroadcastMessages.Add(1)
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
