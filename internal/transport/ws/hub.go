package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
	"github.com/cwrk-planet/ecotalk-server/internal/service"
)

// Hub: реестр живых соединений и реализация service.Notifier.
// Лок хаба всегда берётся после лока реестра комнат, никогда наоборот.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*wsConn

	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewHub(m *metrics.Metrics, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{conns: make(map[string]*wsConn), metrics: m, log: log}
	m.GaugeFunc("ws_connections", "Open WebSocket connections.", func() float64 { return float64(h.Len()) })
	return h
}

var _ service.Notifier = (*Hub)(nil)

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.metrics.Inc(metrics.ConnectionsOpened)
}

func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	if cur, ok := h.conns[c.id]; ok && cur == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
	h.metrics.Inc(metrics.ConnectionsClosed)
}

// Len: число живых соединений.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) encode(ev service.Event) ([]byte, bool) {
	b, err := json.Marshal(Message{Type: ev.Name, Payload: ev.Payload})
	if err != nil {
		h.log.Error("ws encode event failed", "event", ev.Name, "err", err)
		return nil, false
	}
	return b, true
}

func (h *Hub) deliver(c *wsConn, frame []byte) {
	if _, overflow := c.enqueue(frame); overflow {
		h.metrics.Inc(metrics.SendBufferOverflow)
		h.log.Warn("ws send buffer overflow, closing", "conn", c.id)
	}
}

func (h *Hub) Send(connID string, ev service.Event) {
	frame, ok := h.encode(ev)
	if !ok {
		return
	}
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		h.deliver(c, frame)
	}
}

func (h *Hub) Broadcast(connIDs []string, ev service.Event) {
	if len(connIDs) == 0 {
		return
	}
	frame, ok := h.encode(ev)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range connIDs {
		if c, ok := h.conns[id]; ok {
			h.deliver(c, frame)
		}
	}
}

func (h *Hub) BroadcastAll(exceptConnID string, ev service.Event) {
	frame, ok := h.encode(ev)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.conns {
		if id != exceptConnID {
			h.deliver(c, frame)
		}
	}
}

// CloseAll закрывает все соединения (graceful shutdown).
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.closeWith(websocket.CloseGoingAway, reason)
	}
}
