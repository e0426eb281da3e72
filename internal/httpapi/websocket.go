package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/streaming"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsReadLimit  = 512
	wsBufferSize = 1024
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(h.opts.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// handleWS streams the same events as handleSSE as JSON text frames.
// GET /stream/ws?task_id=<id>[&types=...][&last_event_id=<seq>]
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	sub := h.openSubscription(w, r)
	if sub == nil {
		return
	}
	defer h.events.Unsubscribe(sub.taskID, sub.ch)

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Reader pump: discards client messages and notices disconnects
	ctx := r.Context()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	ctx, cancel := contextUntil(ctx, closed)
	defer cancel()

	send := func(evt streaming.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(evt)
	}
	ping := func() error {
		return conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait))
	}
	h.pump(ctx, sub, send, ping)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
		time.Now().Add(wsWriteWait))
}
