// Package ws pushes queue events to browsers over websockets.  Clients
// subscribe to one queue at /ws/queues/:id and receive every event for it as
// a JSON text frame.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/virtual-queue/internal/queue"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

type message struct {
	queueID uint64
	body    []byte
}

// Hub tracks subscribers grouped by queue id.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan message

	upgrader websocket.Upgrader
	log      *logrus.Logger
}

// NewHub returns a hub.  Call Run before serving subscribers.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[uint64]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Run owns the subscriber set until ctx is cancelled, then disconnects
// everyone.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return nil
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.queueID] == nil {
				h.clients[c.queueID] = make(map[*client]struct{})
			}
			h.clients[c.queueID][c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			h.mu.Unlock()
		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients[m.queueID] {
				select {
				case c.send <- m.body:
				default:
					// slow subscriber
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes c.  The caller holds h.mu.
func (h *Hub) drop(c *client) {
	set, ok := h.clients[c.queueID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.queueID)
	}
}

// Subscribers reports how many clients follow the queue.
func (h *Hub) Subscribers(queueID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[queueID])
}

// Name implements service.Sink.
func (h *Hub) Name() string { return "websocket" }

// Send implements service.Sink.  Events for queues nobody follows are
// dropped without encoding.
func (h *Hub) Send(ctx context.Context, ev queue.Event) error {
	if h.Subscribers(ev.QueueID) == 0 {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	select {
	case h.broadcast <- message{queueID: ev.QueueID, body: body}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve upgrades the request and subscribes the connection to the queue in
// the :id path parameter.
func (h *Hub) Serve(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid queue id"})
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return nil
	}
	cl := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), queueID: id}
	select {
	case h.register <- cl:
	case <-c.Request().Context().Done():
		_ = conn.Close()
		return nil
	}
	go cl.writePump()
	cl.readPump()
	return nil
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	queueID uint64
}

// readPump discards inbound frames and unregisters the client once the
// connection fails.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(writeWait):
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
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
		case body, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
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
