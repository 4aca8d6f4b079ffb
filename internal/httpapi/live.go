package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveHub fans out recent pipeline events (detections, identities,
// alerts) to any number of connected /debug/live websocket clients, for
// operators watching a camera or customer resolve in real time. Adapted
// from the teacher's SFU signaling socket, but push-only: this hub never
// reads client messages back.
type LiveHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewLiveHub() *LiveHub {
	return &LiveHub{clients: make(map[*websocket.Conn]struct{})}
}

// ServeWS upgrades the connection and registers it for broadcast until
// the client disconnects or a write fails.
func (h *LiveHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: live ws upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Drain client reads (pings/close frames); this socket is push-only,
	// any data frame from the client is discarded.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *LiveHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Broadcast marshals v to JSON and writes it to every connected client,
// dropping (and closing) any connection whose write fails or blocks.
func (h *LiveHub) Broadcast(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("httpapi: live broadcast marshal failed: %v", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
		}
	}
}
