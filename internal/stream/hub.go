// Package stream broadcasts ticker snapshots to WebSocket clients.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/tickergate/internal/market"
	"github.com/rickgao/tickergate/internal/model"
)

// Heartbeat settings.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// DefaultQueueSize is the per-client send queue length.
const DefaultQueueSize = 16

// Message is the envelope sent to clients.
type Message struct {
	Type      string         `json:"type"` // "init" or "snapshot"
	Market    model.Market   `json:"market,omitempty"`
	FetchedAt time.Time      `json:"fetched_at,omitzero"`
	Tickers   []model.Ticker `json:"tickers,omitempty"`
	Snapshots []Message      `json:"snapshots,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub maintains the set of active clients and broadcasts snapshots.
type Hub struct {
	upgrader  websocket.Upgrader
	queueSize int
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  map[model.Market]*model.Snapshot
	closed  bool
}

// NewHub creates a Hub. queueSize <= 0 uses DefaultQueueSize.
func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueSize: queueSize,
		logger:    logger,
		clients:   make(map[*client]struct{}),
		latest:    make(map[model.Market]*model.Snapshot),
	}
}

// ServeHTTP upgrades the request and streams snapshots until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{conn: conn, remote: r.RemoteAddr, send: make(chan []byte, h.queueSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if hello, err := json.Marshal(h.initMessage()); err == nil {
		c.send <- hello
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("stream client connected", "remote", r.RemoteAddr, "clients", n)

	go h.writePump(c)
	h.readPump(c)
}

// HandleSnapshot broadcasts s to every client. A client whose queue is
// full is dropped.
func (h *Hub) HandleSnapshot(s *model.Snapshot) error {
	data, err := json.Marshal(snapshotMessage(s))
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[s.Market] = s
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("stream client too slow, dropping", "remote", c.remote)
			h.removeLocked(c)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	h.removeLocked(c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("stream client disconnected", "remote", c.remote, "clients", n)
	}
}

// initMessage must be called with h.mu held.
func (h *Hub) initMessage() Message {
	msg := Message{Type: "init", Timestamp: time.Now().UnixMilli()}
	for _, s := range h.latest {
		msg.Snapshots = append(msg.Snapshots, snapshotMessage(s))
	}
	sort.Slice(msg.Snapshots, func(i, j int) bool { return msg.Snapshots[i].Market < msg.Snapshots[j].Market })
	return msg
}

func snapshotMessage(s *model.Snapshot) Message {
	return Message{
		Type:      "snapshot",
		Market:    s.Market,
		FetchedAt: s.FetchedAt,
		Tickers:   market.Sorted(s.Tickers, market.SortBySymbol, false, 0),
		Timestamp: time.Now().UnixMilli(),
	}
}

// readPump discards client messages; it exists to process pongs and
// detect disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on c.conn.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
