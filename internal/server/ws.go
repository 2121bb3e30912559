package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// wsWriteTimeout bounds a single frame write to a subscriber. A client that
// cannot drain a frame within this window is disconnected.
const wsWriteTimeout = 5 * time.Second

// handleWebSocket upgrades the connection and streams hub events to the
// client as JSON text frames. The connection ends when the client closes,
// the subscriber falls behind and is evicted, or the server shuts down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Dashboard clients are served from arbitrary origins on the LAN.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	s.metrics.ActiveSubscribers.Add(r.Context(), 1)
	defer s.metrics.ActiveSubscribers.Add(context.Background(), -1)

	s.log.Info("websocket subscriber connected", "remote", r.RemoteAddr)

	// No inbound frames are expected; CloseRead surfaces client disconnects
	// while this goroutine runs the write pump.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Receive():
			if !ok {
				// Evicted by the hub for falling behind.
				s.log.Warn("websocket subscriber evicted", "remote", r.RemoteAddr)
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				s.log.Debug("websocket write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
