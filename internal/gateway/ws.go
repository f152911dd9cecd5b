package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/cardrip/internal/event"
)

// wsWriteTimeout bounds a single frame write; a stuck client is dropped
// rather than backing up the bus.
const wsWriteTimeout = 5 * time.Second

// Frame is one event-stream message.
type Frame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// streamTopics are the bus topics mirrored onto connected clients.
var streamTopics = []event.Topic{
	event.SessionStart,
	event.SessionStop,
	event.SessionUpdate,
	event.SessionClear,
	event.CardAdded,
	event.CardRemoved,
	event.SetsLoaded,
	event.SetsFiltered,
}

// handleWS upgrades to a WebSocket and forwards every bus event as a JSON
// frame until the client disconnects. Frames are queued per client; a client
// that cannot keep up is disconnected.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The UI is served from file:// or localhost during ripping.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.metrics.WSClients.Add(r.Context(), 1)
	defer s.metrics.WSClients.Add(r.Context(), -1)

	frames := make(chan Frame, 64)
	var unsubs []func()
	for _, topic := range streamTopics {
		topic := topic
		unsubs = append(unsubs, s.bus.On(topic, func(payload any) {
			select {
			case frames <- Frame{Topic: string(topic), Payload: payload}:
			default:
				slog.Warn("event stream client too slow, dropping frame", "topic", topic)
			}
		}))
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	ctx := r.Context()
	// Drain reads so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, f)
			cancel()
			if err != nil {
				slog.Debug("event stream write failed, closing", "err", err)
				return
			}
		}
	}
}
