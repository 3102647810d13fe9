// Package websocket implements the observer channel over gorilla/websocket.
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/fleetcast/core/broadcast"
	"github.com/kilianp07/fleetcast/core/logger"
)

var (
	// ErrUnknownObserver is returned by SendTo for a disconnected observer.
	ErrUnknownObserver = errors.New("unknown observer")
	// ErrClosed is returned once the hub is closed.
	ErrClosed = errors.New("hub closed")
)

// Config tunes the hub.
type Config struct {
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
	// SendBuffer is the outgoing queue length per observer. A full queue
	// discards its oldest frame.
	SendBuffer int
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// PingInterval is the keepalive period. The read deadline is twice it.
	PingInterval time.Duration
	// MaxMessageSize caps incoming frames.
	MaxMessageSize int64
}

func (c *Config) setDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
}

// request is an incoming observer frame.
type request struct {
	Type  string `json:"type"`
	BusID string `json:"busId"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks connected observers. It implements broadcast.ObserverChannel
// and http.Handler.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      logger.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	cbMu         sync.RWMutex
	onConnect    func(string)
	onDisconnect func(string)
	onRequest    func(string, string)

	dropped atomic.Uint64
}

var _ broadcast.ObserverChannel = (*Hub)(nil)

// NewHub returns a hub without observers.
func NewHub(cfg Config, log logger.Logger) *Hub {
	cfg.setDefaults()
	h := &Hub{
		cfg:     cfg,
		log:     logger.OrNop(log),
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (h *Hub) OnConnect(fn func(observerID string)) {
	h.cbMu.Lock()
	h.onConnect = fn
	h.cbMu.Unlock()
}

func (h *Hub) OnDisconnect(fn func(observerID string)) {
	h.cbMu.Lock()
	h.onDisconnect = fn
	h.cbMu.Unlock()
}

func (h *Hub) OnRequest(fn func(observerID, vehicleID string)) {
	h.cbMu.Lock()
	h.onRequest = fn
	h.cbMu.Unlock()
}

// Observers returns the number of connected observers.
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of stale frames discarded on full queues.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Broadcast queues ev on every observer. Observers with a full queue lose
// their oldest pending frame instead.
func (h *Hub) Broadcast(ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for _, c := range h.clients {
		h.enqueue(c, data)
	}
	return nil
}

// SendTo queues ev for one observer.
func (h *Hub) SendTo(observerID string, ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	c, ok := h.clients[observerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObserver, observerID)
	}
	h.enqueue(c, data)
	return nil
}

// enqueue never blocks: while the queue is full the oldest frame is
// discarded. The write pump may drain concurrently.
func (h *Hub) enqueue(c *client, data []byte) {
	for {
		select {
		case c.send <- data:
			return
		default:
		}
		select {
		case <-c.send:
			h.dropped.Add(1)
		default:
		}
	}
}

// ServeHTTP upgrades the request and serves the observer until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	go h.writePump(c)
	h.callback(func() {
		if h.onConnect != nil {
			h.onConnect(c.id)
		}
	})
	h.readPump(c)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.callback(func() {
		if h.onDisconnect != nil {
			h.onDisconnect(c.id)
		}
	})
}

func (h *Hub) callback(fn func()) {
	h.cbMu.RLock()
	defer h.cbMu.RUnlock()
	fn()
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugf("observer %s read: %v", c.id, err)
			}
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = h.SendTo(c.id, broadcast.Event{Type: broadcast.EventError, Data: broadcast.ErrorData{Message: "invalid message"}})
			continue
		}
		switch req.Type {
		case broadcast.EventRequest:
			if req.BusID == "" {
				_ = h.SendTo(c.id, broadcast.Event{Type: broadcast.EventError, Data: broadcast.ErrorData{Message: "busId is required"}})
				continue
			}
			h.callback(func() {
				if h.onRequest != nil {
					h.onRequest(c.id, req.BusID)
				}
			})
		default:
			h.log.Debugf("observer %s sent unknown message type %q", c.id, req.Type)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debugf("observer %s write: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every observer and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		c.close()
	}
	return nil
}
