package channel

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Hub tracks websocket connections per account. One account may have several
// connections (tabs, devices); a push goes to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[shared.AccountID]map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[shared.AccountID]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds c to its account's connection set.
func (h *Hub) Register(c *Client) {
	if c == nil || !c.accountID.IsValid() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.accountID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.clients[c.accountID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes and closes c.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	if set := h.clients[c.accountID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.accountID)
		}
	}
	h.mu.Unlock()
	c.Close()
}

// Send queues payload on every connection of the account. It returns the number
// of connections that accepted it. A connection with a full buffer is dropped.
func (h *Hub) Send(accountID shared.AccountID, payload []byte) int {
	if len(payload) == 0 {
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[accountID]))
	for c := range h.clients[accountID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	accepted := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			accepted++
			continue
		}
		h.logger.Warn("dropping slow websocket client", zap.String("account_id", accountID.String()))
		h.Unregister(c)
	}
	return accepted
}

// Connections returns the number of open connections for the account.
func (h *Hub) Connections(accountID shared.AccountID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[shared.AccountID]map[*Client]struct{})
	h.mu.Unlock()
	for _, set := range all {
		for c := range set {
			c.Close()
		}
	}
}

// Client is one websocket connection.
type Client struct {
	accountID shared.AccountID
	conn      *websocket.Conn
	send      chan []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewClient wraps conn. conn may be nil in tests; the client then only buffers.
func NewClient(accountID shared.AccountID, conn *websocket.Conn) *Client {
	return &Client{
		accountID: accountID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
	}
}

// AccountID returns the account the connection belongs to.
func (c *Client) AccountID() shared.AccountID { return c.accountID }

// Messages exposes the outbound buffer. Used by tests.
func (c *Client) Messages() <-chan []byte { return c.send }

func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close closes the buffer and the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// WritePump drains the buffer to the socket and keeps the connection alive with pings.
func (c *Client) WritePump() {
	if c.conn == nil {
		return
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

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

// ReadPump consumes client frames until the connection fails, then unregisters.
// Clients do not send application messages; reads only service pongs and close frames.
func (c *Client) ReadPump(h *Hub) {
	defer h.Unregister(c)
	if c.conn == nil {
		return
	}
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
