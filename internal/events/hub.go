package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when publishing to a user without a live channel.
// Callers must treat it as an immediate rejection; events are never queued for
// offline users.
var ErrNotConnected = errors.New("events: channel unavailable")

const (
	sendBuffer    = 256
	readDeadline  = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
)

// Sender identifies the authenticated party behind a connection.
type Sender struct {
	UserID string
	Role   string
	Name   string
}

// Handler receives inbound envelopes from connected clients.
type Handler interface {
	HandleEvent(ctx context.Context, from Sender, env Envelope)
}

// Client is one live websocket connection.
type Client struct {
	who  Sender
	conn *websocket.Conn

	send chan Envelope
	done chan struct{}
	once sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub tracks at most one live connection per user id. A new connection for a
// user replaces the previous one; the old connection is closed.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client

	handler Handler
	log     *slog.Logger
}

func NewHub(handler Handler, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		handler: handler,
		log:     log,
	}
}

// SetHandler installs the inbound dispatcher. Wiring only, before any
// connection attaches; it breaks the hub/handler construction cycle.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// Attach registers an upgraded connection for a user and runs its pumps.
// It returns once the client is registered; the pumps run until the
// connection drops.
func (h *Hub) Attach(conn *websocket.Conn, who Sender) *Client {
	c := &Client{
		who:  who,
		conn: conn,
		send: make(chan Envelope, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if prev, ok := h.clients[who.UserID]; ok {
		// Newest connection wins.
		prev.close()
	}
	h.clients[who.UserID] = c
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
	return c
}

// IsConnected reports whether the user currently has a live channel.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[userID]
	return ok
}

// Publish sends an envelope to a user's channel. ErrNotConnected when the
// user has no live connection; errors when the send buffer is saturated.
func (h *Hub) Publish(userID string, env Envelope) error {
	h.mu.Lock()
	c, ok := h.clients[userID]
	h.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		// A full buffer means the peer stopped reading; drop the connection
		// rather than block the caller.
		h.log.Warn("event channel buffer full, closing", "user_id", userID)
		h.detach(c)
		return ErrNotConnected
	}
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.who.UserID]; ok && cur == c {
		delete(h.clients, c.who.UserID)
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) readPump(c *Client) {
	defer h.detach(c)

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("event channel read failed", "user_id", c.who.UserID, "err", err)
			}
			return
		}
		if env.Type == "" {
			continue
		}
		if h.handler == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		h.handler.HandleEvent(ctx, c.who, env)
		cancel()
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
