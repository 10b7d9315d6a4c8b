package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/ecotalk-server/internal/identity"
)

// wsConn: одно WebSocket-соединение. Исходящие кадры идут через буферизованный канал
// и пишутся только из writeLoop; переполнение буфера закрывает соединение.
type wsConn struct {
	id       string
	identity identity.Identity

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	closeMu     sync.Mutex
	closeCode   int
	closeReason string

	pingEvery time.Duration
	writeWait time.Duration
	log       *slog.Logger
}

func newWsConn(id string, ident identity.Identity, ws *websocket.Conn, cfg Config, log *slog.Logger) *wsConn {
	return &wsConn{
		id:        id,
		identity:  ident,
		ws:        ws,
		send:      make(chan []byte, cfg.SendBuffer),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
		pingEvery: cfg.PingEvery,
		writeWait: cfg.WriteWait,
		log:       log,
	}
}

// enqueue не блокируется: вызывается под локом реестра. overflow=true, если кадр
// не влез в буфер и соединение из-за этого закрыто.
func (c *wsConn) enqueue(frame []byte) (ok, overflow bool) {
	select {
	case <-c.done:
		return false, false
	default:
	}
	select {
	case c.send <- frame:
		return true, false
	default:
		c.closeWith(websocket.CloseTryAgainLater, "send buffer full")
		return false, true
	}
}

// closeWith помечает соединение закрытым; сам close-кадр отправляет writeLoop.
func (c *wsConn) closeWith(code int, reason string) {
	c.once.Do(func() {
		c.closeMu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.closeMu.Unlock()
		close(c.done)
	})
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.closeMu.Lock()
		code, reason := c.closeCode, c.closeReason
		c.closeMu.Unlock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeWait))
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.drain()
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.log.Debug("ws write failed", "conn", c.id, "err", err)
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// drain дописывает уже поставленные в очередь кадры перед закрытием (кроме переполнения).
func (c *wsConn) drain() {
	c.closeMu.Lock()
	overflow := c.closeCode == websocket.CloseTryAgainLater
	c.closeMu.Unlock()
	if overflow {
		return
	}
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(kind int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, data)
}
