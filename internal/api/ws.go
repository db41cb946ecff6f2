package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gwlsn/avfarm/internal/eventbus"
	"github.com/gwlsn/avfarm/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The farm's UI is same-origin or served from a trusted reverse proxy;
	// there's no cross-site credential to protect here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsPingInterval = 25 * time.Second

// GET /events: a WebSocket stream of snapshot + live EventBus events
// (spec §4.J). A subscriber too slow to keep up is disconnected and must
// reconnect, which re-delivers a fresh snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Component("api").Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	snapshot := s.snapshotAsEvents()
	sub := s.bus.Subscribe(snapshot)
	defer sub.Close()

	// Drain any client-initiated messages (pings, close frames) on their
	// own goroutine so a read stall doesn't block outbound delivery.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

func (s *Server) snapshotAsEvents() []eventbus.Event {
	_, files, err := s.store.SnapshotForUI(500)
	if err != nil {
		logger.Component("api").Warn("snapshot for ws failed", "error", err)
		return nil
	}
	out := make([]eventbus.Event, 0, len(files))
	for _, f := range files {
		out = append(out, eventbus.Event{
			Kind:      eventbus.KindStateChange,
			FileID:    f.ID,
			Status:    string(f.Status),
			Timestamp: f.UpdatedAt,
		})
	}
	return out
}
