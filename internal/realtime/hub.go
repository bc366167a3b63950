// Package realtime pushes queue events to connected reception screens over
// websockets, grouped by clinic.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64
)

// Envelope is the JSON frame written to feed clients.
type Envelope struct {
	Type     domain.EventType `json:"type"`
	ClinicID string           `json:"clinic_id"`
	At       time.Time        `json:"at"`
	Event    domain.Event     `json:"event"`
}

type broadcast struct {
	clinicID string
	payload  []byte
}

// Hub owns the set of connected clients per clinic. A single goroutine
// (Run) mutates the client map; everything else talks to it via channels.
type Hub struct {
	clients    map[string]map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan broadcast
	done       chan struct{}

	mu    sync.RWMutex
	count int

	upgrader websocket.Upgrader
	logger   *zap.Logger
	onDrop   func()
}

// NewHub returns a hub. An empty allowedOrigins accepts any origin.
func NewHub(allowedOrigins []string, logger *zap.Logger, onDrop func()) *Hub {
	if onDrop == nil {
		onDrop = func() {}
	}
	h := &Hub{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcast, 256),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "realtime")),
		onDrop:     onDrop,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// Register subscribes the hub to every event on the bus.
func (h *Hub) Register(sub eventbus.Subscriber) {
	sub.SubscribeAll("realtime", h.Handle)
}

// Handle queues e for every client watching its clinic. It never blocks the
// bus: when the hub is saturated the frame is dropped.
func (h *Hub) Handle(_ context.Context, e domain.Event) error {
	m := e.Metadata()
	payload, err := json.Marshal(Envelope{Type: e.Type(), ClinicID: m.ClinicID, At: m.At, Event: e})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcast{clinicID: m.ClinicID, payload: payload}:
	default:
		h.onDrop()
		h.logger.Warn("realtime hub saturated; frame dropped", zap.String("clinic_id", m.ClinicID))
	}
	return nil
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			if h.clients[c.clinicID] == nil {
				h.clients[c.clinicID] = make(map[*client]struct{})
			}
			h.clients[c.clinicID][c] = struct{}{}
			h.setCount(1)
		case c := <-h.unregister:
			h.remove(c)
		case b := <-h.broadcast:
			for c := range h.clients[b.clinicID] {
				select {
				case c.send <- b.payload:
				default:
					// Slow reader: drop the client rather than the hub.
					h.remove(c)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					h.remove(c)
				}
			}
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	set, ok := h.clients[c.clinicID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.clinicID)
	}
	h.setCount(-1)
}

func (h *Hub) setCount(delta int) {
	h.mu.Lock()
	h.count += delta
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Serve upgrades the request and streams clinicID's events to it until the
// connection closes. The caller must already have authorized the request.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, clinicID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), clinicID: clinicID}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	clinicID string
}

// readPump discards client frames and detects disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
