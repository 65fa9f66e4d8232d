// Package ws pushes opportunities and status snapshots to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

const (
	// Time allowed to write one frame to a client.
	writeWait = 10 * time.Second

	// A client that sends no pong within pongWait is dropped. Pings go out
	// a little more often than that.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames; anything larger is a misbehaving
	// peer.
	maxMessageSize = 512

	sendBufferSize = 64
	broadcastSize  = 256
)

// ErrHubFull is returned by Record when the broadcast queue is full.
var ErrHubFull = errors.New("ws: broadcast queue full")

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// client is one websocket connection. send is closed by the hub, which makes
// writePump send a close frame and exit.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to connected clients. All client bookkeeping
// happens on the Run goroutine; HandleWS and the pumps talk to it through
// the register and unregister channels.
//
// Neither the hub nor a single client can hold up the caller: Publish fails
// fast with ErrHubFull when the queue is full, and a client whose send
// buffer is full simply misses the message.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	status     func() any
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHub creates a hub. status, when non-nil, is sent to each client on
// connect.
func NewHub(status func() any, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, broadcastSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		status:     status,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "ws_hub")),
	}
}

// Run owns the client set until ctx is cancelled. On return every client
// is sent a close frame and done is closed, so late HandleWS calls and
// pumps stop waiting on the hub.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return nil

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Info("client connected", slog.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.logger.Info("client disconnected", slog.Int("clients", len(h.clients)))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("dropping message for slow client")
				}
			}
		}
	}
}

// Name identifies the hub as an opportunity sink.
func (h *Hub) Name() string { return "ws" }

// Record implements domain.OpportunitySink.
func (h *Hub) Record(_ context.Context, opp domain.ArbOpportunity) error {
	return h.Publish(Message{Type: "opportunity", Payload: opp})
}

// Publish queues msg for every client without blocking.
func (h *Hub) Publish(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", msg.Type, err)
	}
	select {
	case h.broadcast <- data:
		return nil
	default:
		return ErrHubFull
	}
}

// HandleWS upgrades the request and registers the client. The current
// status snapshot is queued before registration so it is always the first
// frame a client receives.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}

	if h.status != nil {
		if data, err := json.Marshal(Message{Type: "status", Payload: h.status()}); err == nil {
			c.send <- data
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump discards client frames and detects disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump drains send to the connection and pings on pingPeriod. It is
// the only goroutine that writes to conn.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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
