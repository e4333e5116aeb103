package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/basin-labs/vase/internal/logger"
	"github.com/basin-labs/vase/internal/types"
)

var hubLogger = logger.GetForComponent("event_hub")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientMsgLimit = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The operations API already allows any origin; the stream mirrors that.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans committed engine events out to websocket subscribers. It is the
// engine's event sink: Publish never blocks the engine, slow subscribers are
// dropped instead.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan types.Event
}

// NewHub returns an empty hub ready to accept subscribers.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Publish delivers an event to every connected subscriber. Subscribers whose
// buffers are full are disconnected.
func (h *Hub) Publish(event types.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			hubLogger.Warn().Msg("Dropping slow event subscriber")
			go h.remove(c)
		}
	}
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// handleWebsocket upgrades the connection and starts the client pumps.
func (h *Hub) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hubLogger.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan types.Event, 64),
	}
	h.add(c)
	hubLogger.Info().Str("remote_addr", r.RemoteAddr).Msg("Event subscriber connected")

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards inbound messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(clientMsgLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hubLogger.Debug().Err(err).Msg("Event subscriber read error")
			}
			return
		}
	}
}

// writePump streams events and keepalive pings to one subscriber.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				hubLogger.Debug().Err(err).Msg("Event subscriber write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
