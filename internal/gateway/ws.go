package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/triggr/node/internal/authn"
	"github.com/triggr/node/internal/pubsub"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is the shape of every inbound WebSocket text frame
// (spec.md §4.9): {"data": "subscribe:<topic>"} / {"data": "unsubscribe:<topic>"}.
type inboundFrame struct {
	Data string `json:"data"`
}

// handleWebSocket upgrades an authenticated request to a pub/sub session:
// one Subscriber per connection, ping/pong keepalive, and a write loop
// that rewrites internal (project-namespaced) topics back to the bare
// wire form clients subscribed with.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.WithFields(map[string]interface{}{"project": proj.ID}).Warn("websocket upgrade failed: " + err.Error())
		}
		return
	}

	sub := s.bus.NewSubscriber(uuid.NewString())
	defer func() {
		s.bus.RemoveSubscriber(sub)
		s.bus.CloseSubscriber(sub)
	}()

	done := make(chan struct{})
	go s.wsWriteLoop(conn, sub, proj.ID, done)
	s.wsReadLoop(conn, sub, proj.ID, done)
}

func (s *Server) wsReadLoop(conn *websocket.Conn, sub *pubsub.Subscriber, projectID string, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	pongTimeout := s.cfg.WSPongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue // unknown/malformed inbound frames are ignored (spec.md §6)
		}
		switch {
		case strings.HasPrefix(frame.Data, "subscribe:"):
			topic := strings.TrimPrefix(frame.Data, "subscribe:")
			s.bus.Subscribe(sub, projectID+":"+topic)
		case strings.HasPrefix(frame.Data, "unsubscribe:"):
			topic := strings.TrimPrefix(frame.Data, "unsubscribe:")
			s.bus.Unsubscribe(sub, projectID+":"+topic)
		}
	}
}

func (s *Server) wsWriteLoop(conn *websocket.Conn, sub *pubsub.Subscriber, projectID string, done chan struct{}) {
	writeTimeout := s.cfg.WSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	pingInterval := s.cfg.WSPingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	projectPrefix := projectID + ":"

	for {
		select {
		case <-done:
			return
		case <-sub.CloseSignal():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(4001, "project deleted"),
				time.Now().Add(writeTimeout))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Notify():
			for _, payload := range sub.Drain() {
				payload.Topic = strings.TrimPrefix(payload.Topic, projectPrefix)
				raw, err := json.Marshal(payload)
				if err != nil {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					return
				}
			}
		}
	}
}
