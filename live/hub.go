// Package live streams run progress to websocket clients.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	// DefaultBuffer is the number of messages queued ahead of the broadcaster.
	DefaultBuffer = 256
)

// Progress is sent for every progress event of a run.
type Progress struct {
	Type      string  `json:"type"`
	RunID     string  `json:"run_id,omitempty"`
	Frame     int     `json:"frame"`
	Total     int     `json:"total,omitempty"`
	Intensity float64 `json:"intensity"`
}

// Done is sent once when a run reaches a terminal state.
type Done struct {
	Type   string `json:"type"`
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status"`
	Frames int    `json:"frames"`
	Error  string `json:"error,omitempty"`
}

// Message types.
const (
	TypeProgress = "progress"
	TypeDone     = "done"
)

// Hub fans published messages out to every connected websocket client.
// Publish never blocks; messages that do not fit the buffer are dropped.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	last    []byte

	pubMu    sync.Mutex
	messages chan any
	closed   bool
	dropped  int
}

// NewHub returns a hub queueing up to buffer messages. Run must be started
// for messages to reach clients.
func NewHub(logger *zap.Logger, buffer int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   logger,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		messages: make(chan any, buffer),
	}
}

// Publish queues v for broadcast as JSON. It reports false when the hub is
// closed or its buffer is full.
func (h *Hub) Publish(v any) bool {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	if h.closed {
		return false
	}
	select {
	case h.messages <- v:
		return true
	default:
		h.dropped++
		return false
	}
}

// Dropped returns the number of messages discarded because the buffer was full.
func (h *Hub) Dropped() int {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	return h.dropped
}

// Close stops accepting messages. Run delivers what is already queued, then
// disconnects the clients and returns.
func (h *Hub) Close() {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.messages)
	}
}

// Run broadcasts queued messages until the hub is closed or ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.disconnectAll()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-h.messages:
			if !ok {
				return
			}
			h.broadcast(message)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and registers the client.
// A new client immediately receives the most recent message.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.pubMu.Lock()
	closed := h.closed
	h.pubMu.Unlock()
	if closed {
		http.Error(w, "run finished", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade", zap.Error(err))
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	last := h.last
	h.mu.Unlock()
	h.logger.Debug("live client connected", zap.String("remote", r.RemoteAddr))

	if last != nil {
		if err := writeMessage(conn, writeMu, websocket.TextMessage, last); err != nil {
			h.removeClient(conn)
			return
		}
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer h.removeClient(conn)
		// Clients only listen; reading keeps pongs and close frames flowing.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) broadcast(message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Warn("encode live message", zap.Error(err))
		return
	}
	var stale []*websocket.Conn
	h.mu.Lock()
	h.last = payload
	for conn, writeMu := range h.clients {
		if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()
	for _, conn := range stale {
		h.removeClient(conn)
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, writeMu := range h.clients {
		conns[conn] = writeMu
	}
	h.mu.Unlock()

	closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	for conn, writeMu := range conns {
		_ = writeMessage(conn, writeMu, websocket.CloseMessage, closing)
		h.removeClient(conn)
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
