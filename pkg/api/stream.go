package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cuemby/behemoth/pkg/log"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleTaskStream pushes a task's log lines over a websocket. The client
// authenticates with a minted token, receives everything logged so far,
// then live lines as the batch appends them.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	if _, err := s.tokens.Validate(token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	taskID := chi.URLParam(r, "taskID")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := log.WithComponent("api")
		logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Catch the subscriber up before streaming live lines.
	if replay, err := s.stream.Replay(taskID); err == nil && len(replay) > 0 {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, replay); err != nil {
			return
		}
	}

	sub := s.broker.Subscribe(taskID)
	defer s.broker.Unsubscribe(taskID, sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(rec.Line+"\r\n")); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
