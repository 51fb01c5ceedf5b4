package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/coin_tracker/internal/domain"
	"github.com/vitos/coin_tracker/internal/usecase"
	"go.uber.org/zap"
)

const (
	writeWait = 5 * time.Second
	// sendBuffer is how many messages a client may lag behind before it is dropped.
	sendBuffer = 8
)

// CycleMessage is pushed to stream clients after each successful cycle.
type CycleMessage struct {
	Type      string                 `json:"type"`
	Report    usecase.CycleReport    `json:"report"`
	Snapshots []domain.AssetSnapshot `json:"snapshots"`
}

func NewCycleMessage(report usecase.CycleReport) CycleMessage {
	return CycleMessage{Type: "cycle", Report: report, Snapshots: report.Snapshots}
}

// Hub fans cycle messages out to websocket clients. Each client has its own
// writer goroutine, so Broadcast never waits on the network.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &streamClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	// Clients only listen; reading detects when they go away.
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// writeLoop owns all writes to c.conn. It exits and closes the connection
// once c.send is closed or a write fails.
func (h *Hub) writeLoop(c *streamClient) {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("Dropping stream client", zap.Error(err))
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
}

// remove unregisters c and closes its queue. Callers must not hold h.mu.
func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *streamClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues v as JSON for every client. A client whose queue is full
// is dropped instead of stalling the caller.
func (h *Hub) Broadcast(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode stream message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("Stream client too slow, dropping")
			h.dropLocked(c)
		}
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}
