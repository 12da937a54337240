package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Hub tracks live connections by client id and routes asynchronous expiry
// notifications to them. A notification for a connection that is gone is
// dropped silently.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*connection),
		logger: logger.With("component", "connection-hub"),
	}
}

func (h *Hub) add(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.clientID] = c
}

func (h *Hub) remove(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, clientID)
}

func (h *Hub) get(clientID string) (*connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[clientID]
	return c, ok
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*connection)
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// NotifyExpired pushes the expiry line to the connection that held the lease,
// if it is still open.
func (h *Hub) NotifyExpired(clientID string, itemID int64) {
	c, ok := h.get(clientID)
	if !ok {
		h.logger.Debug("expiry notification dropped, client gone", "client_id", clientID, "item_id", itemID)
		return
	}
	if err := c.write(fmt.Sprintf("Slogan id %d has expired\r\n", itemID)); err != nil {
		h.logger.Debug("expiry notification write failed", "client_id", clientID, "error", err.Error())
	}
}

// connection wraps one accepted socket. Command replies and expiry pushes
// write concurrently, so writes are serialized per connection.
type connection struct {
	clientID string
	conn     net.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *connection) write(s string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write([]byte(s))
	return err
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}
