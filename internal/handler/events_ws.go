package handler

import (
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/directory"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventsWSHandler pushes directory snapshots to local UI clients over
// WebSocket so dashboards re-render on every roster change instead of polling.
type EventsWSHandler struct {
	dir      *directory.Directory
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewEventsWSHandler creates the events handler.
func NewEventsWSHandler(dir *directory.Directory, readBuf, writeBuf int, log *zap.Logger) *EventsWSHandler {
	return &EventsWSHandler{
		dir: dir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			// Local UI only; in prod set CheckOrigin.
		},
		log: log,
	}
}

// ServeWS upgrades the request and streams snapshots until the client leaves.
// Path: /ws/events
func (h *EventsWSHandler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub, cancel := h.dir.Subscribe()
	defer cancel()

	// Reader goroutine: discard inbound frames, unblock on close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Initial state so a fresh dashboard renders without waiting for a change.
	first := directory.Snapshot{
		Roster:          h.dir.Roster(),
		Current:         h.dir.Current(),
		ConnectionState: h.dir.ConnectionState(),
	}
	if err := h.writeSnapshot(conn, first); err != nil {
		return
	}

	for {
		select {
		case snap, ok := <-sub:
			if !ok {
				return
			}
			if err := h.writeSnapshot(conn, snap); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *EventsWSHandler) writeSnapshot(conn *websocket.Conn, snap directory.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(snap); err != nil {
		h.log.Debug("events write failed", zap.Error(err))
		return err
	}
	return nil
}
