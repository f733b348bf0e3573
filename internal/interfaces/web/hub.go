package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Subscribers are read-only dashboards; any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// priceMsg is the only message type this subsystem emits to subscribers.
type priceMsg struct {
	Type string                `json:"type"`
	Data domain.NormalizedTick `json:"data"`
}

// Hub owns the set of connected subscriber sinks and fans ticks out to them.
// It only ever attempts sends; sink lifetime is managed by the connection
// handlers, which remove a sink when its transport fails.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Broadcast hands the tick to every currently registered sink. A sink whose
// buffer is full (not ready) is skipped; it never blocks or fails the others.
func (h *Hub) Broadcast(tick domain.NormalizedTick) {
	b, err := json.Marshal(priceMsg{Type: "price", Data: tick})
	if err != nil {
		log.Warn().Err(err).Msg("marshal broadcast tick failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			log.Debug().Str("pair", string(tick.Pair)).Msg("slow subscriber, tick skipped")
		}
	}
}

// Subscribers reports the current sink count, for the health surface.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades the request and registers the connection as a sink.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.add(c)
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("subscriber connected")

	go c.writePump(h)
	c.readPump(h)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// remove unregisters the sink and closes its send channel. Closing under the
// write lock is safe: Broadcast only sends while holding the read lock, so no
// send can be in flight here. Safe to call twice.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// writePump drains the send buffer onto the socket. A write failure removes
// the sink; other sinks are unaffected.
func (c *client) writePump(h *Hub) {
	defer h.remove(c)
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Warn().Err(err).Msg("send to subscriber failed")
			return
		}
	}
}

// readPump discards inbound frames; subscribers don't speak. It exists to
// detect the close handshake and unregister the sink.
func (c *client) readPump(h *Hub) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			log.Info().Str("remote", c.conn.RemoteAddr().String()).Msg("subscriber disconnected")
			return
		}
	}
}

var _ port.Broadcaster = (*Hub)(nil)
