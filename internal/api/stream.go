package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	_writeWait  = 10 * time.Second
	_pongWait   = 60 * time.Second
	_pingPeriod = (_pongWait * 9) / 10
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == s.cfg.AllowedOrigin || sameHost(origin, r.Host)
		},
	}
}

func sameHost(origin, host string) bool {
	return origin == "http://"+host || origin == "https://"+host
}

// EngineStatusStream pushes the engine status as JSON on connect and on every
// change until the client goes away.
func (s *Server) EngineStatusStream(ctx *gin.Context) {
	conn, err := s.upgrader().Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		s.logger.Warnw("Status stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.deps.Status.Subscribe()
	defer unsubscribe()

	// The read loop only exists to notice the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(_pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(_pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(_pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ctx.Request.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(_writeWait))
			if err := conn.WriteJSON(st); err != nil {
				s.logger.Debugw("Status stream write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(_writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
