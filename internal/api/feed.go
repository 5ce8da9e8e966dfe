package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mathgaling/tutor/internal/tutor"
)

const (
	feedPingInterval = 30 * time.Second
	feedWriteTimeout = 5 * time.Second
)

// Feed message types.
const (
	FeedSnapshot = "snapshot"
	FeedEvent    = "event"
)

// FeedMessage is one frame of the mastery feed. The first frame is a snapshot
// of the student's knowledge states; every later frame carries one event.
type FeedMessage struct {
	Type   string            `json:"type"`
	States []tutor.StateView `json:"states,omitempty"`
	Event  *tutor.Event      `json:"event,omitempty"`
}

func (h *handler) handleMasteryFeed(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "mastery feed is disabled"})
		return
	}
	studentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	states, err := h.engine.KnowledgeStates(r.Context(), studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept has already written the handshake error.
		slog.Warn("mastery feed handshake failed", "student_id", studentID, "error", err)
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := h.hub.Subscribe(studentID)
	defer unsubscribe()

	// The feed is write-only; CloseRead handles control frames and cancels
	// ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())

	slog.Info("mastery feed opened", "student_id", studentID)
	defer slog.Info("mastery feed closed", "student_id", studentID)

	if err := writeFrame(ctx, conn, FeedMessage{Type: FeedSnapshot, States: states}); err != nil {
		return
	}

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if err := writeFrame(ctx, conn, FeedMessage{Type: FeedEvent, Event: &ev}); err != nil {
				slog.Debug("mastery feed write failed", "student_id", studentID, "error", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg FeedMessage) error {
	ctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
