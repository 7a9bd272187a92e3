package adminapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bigheads-mesh/bigheads/internal/bridge"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // loopback-only server
}

// eventHub fans a single bridge.Event stream out to every connected
// websocket client, generalizing the teacher's per-agent AgentConn to a
// broadcast hub since there is exactly one local node's event stream to
// mirror, not one connection per remote peer.
type eventHub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newEventHub(log *slog.Logger) *eventHub {
	return &eventHub{log: log, clients: make(map[*websocket.Conn]struct{})}
}

// run drains br.Events() and broadcasts until ctx is cancelled by the
// caller closing the done channel.
func (h *eventHub) run(events <-chan bridge.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt := <-events:
			h.broadcast(evt)
		}
	}
}

func (h *eventHub) broadcast(evt bridge.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(evt); err != nil {
			h.log.Debug("drop ws client on write failure", "error", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *eventHub) handleConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Drain (and discard) inbound frames purely to detect disconnects;
	// this endpoint is read-only from the client's point of view.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
