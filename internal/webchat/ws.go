package webchat

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleStream upgrades GET /v3/directline/conversations/{id}/stream?t=<conv-token>&watermark=n
// to a WebSocket and pushes ActivitiesEnvelope frames as new activities
// are appended. The conversation token is carried as a query parameter
// (t=) rather than an Authorization header because browsers cannot set
// arbitrary headers on the WebSocket handshake request.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, convID string) {
	raw := r.URL.Query().Get("t")
	if raw == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	claims, err := s.issuer.Verify(raw)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if claims.Conv != "" && claims.Conv != convID {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	conv, err := s.store.Get(r.Context(), convID)
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if !claims.Ctx.Equal(conv.Ctx) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	after, err := parseWatermark(r.URL.Query().Get("watermark"))
	if err != nil {
		http.Error(w, "invalid watermark", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("webchat: websocket upgrade failed", "error", err)
		return
	}
	go s.runStream(conn, convID, after)
}

// runStream owns conn for its lifetime: it sends the backlog since
// after, then relays every subsequently-appended activity until the
// client disconnects or the connection can't keep up. Per-conversation
// watermark advancement stays serialized inside the Store; this loop is
// purely a fan-out consumer.
func (s *Server) runStream(conn *websocket.Conn, convID string, after uint64) {
	defer conn.Close()

	sub := newChanSubscriber(64)
	unsubscribe, err := s.store.Subscribe(context.Background(), convID, sub)
	if err != nil {
		s.logger.Warn("webchat: subscribe failed", "conversation_id", convID, "error", err)
		return
	}
	defer unsubscribe()

	backlog, watermark, err := s.store.Since(context.Background(), convID, after)
	if err == nil && len(backlog) > 0 {
		if sendErr := s.sendEnvelope(conn, backlog, watermark); sendErr != nil {
			return
		}
	}

	// Drain and discard inbound frames so the read side stays healthy
	// (gorilla/websocket requires reads to keep the connection alive for
	// control frames like ping/close); the Direct Line stream is
	// server-push only, so client-sent frames carry no payload we act on.
	go s.drainReads(conn)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sub.Done():
			return
		case activity, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := s.sendEnvelope(conn, []StoredActivity{activity}, activity.Watermark); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) sendEnvelope(conn *websocket.Conn, activities []StoredActivity, watermark uint64) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	env := ActivitiesEnvelope{Activities: toActivities(activities), Watermark: strconv.FormatUint(watermark, 10)}
	return conn.WriteJSON(env)
}
