package ws

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/ecotalk-server/internal/identity"
	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
	"github.com/cwrk-planet/ecotalk-server/internal/service"
)

func detachedConn(id string, buf int) *wsConn {
	cfg := Config{SendBuffer: buf}.withDefaults()
	return newWsConn(id, identity.Identity{UserID: id}, nil, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHubOverflowClosesConnection(t *testing.T) {
	m := metrics.New()
	h := NewHub(m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := detachedConn("c1", 1)
	h.add(c)

	ev := service.Event{Name: service.EventUserLeft, Payload: service.UserLeftPayload{UserID: "x"}}
	h.Send("c1", ev)
	if c.closed() {
		t.Fatalf("closed after first frame")
	}
	h.Send("c1", ev)
	if !c.closed() {
		t.Fatalf("overflow did not close connection")
	}
	if c.closeCode != websocket.CloseTryAgainLater {
		t.Fatalf("close code %d", c.closeCode)
	}
	if m.Get(metrics.SendBufferOverflow) != 1 {
		t.Fatalf("overflow not counted")
	}

	// после закрытия кадры тихо отбрасываются
	h.Send("c1", ev)
	if m.Get(metrics.SendBufferOverflow) != 1 {
		t.Fatalf("frames after close counted as overflow")
	}
}

func TestHubBroadcastAllSkipsSender(t *testing.T) {
	h := NewHub(nil, nil)
	a, b := detachedConn("a", 4), detachedConn("b", 4)
	h.add(a)
	h.add(b)

	h.BroadcastAll("a", service.Event{Name: service.EventRoomRemoved, Payload: service.RoomRemovedPayload{RoomID: "r"}})
	if len(a.send) != 0 || len(b.send) != 1 {
		t.Fatalf("queued: a=%d b=%d", len(a.send), len(b.send))
	}
	if got := string(<-b.send); got != `{"type":"room-removed","payload":{"roomId":"r"}}` {
		t.Fatalf("frame: %s", got)
	}

	h.Broadcast([]string{"a", "ghost"}, service.Event{Name: service.EventUserLeft, Payload: service.UserLeftPayload{UserID: "u"}})
	if len(a.send) != 1 {
		t.Fatalf("broadcast to a missing")
	}
}

func TestHubRemoveKeepsReplacement(t *testing.T) {
	h := NewHub(nil, nil)
	old := detachedConn("c", 1)
	h.add(old)
	fresh := detachedConn("c", 1)
	h.add(fresh)

	h.remove(old)
	if h.Len() != 1 {
		t.Fatalf("replacement removed by stale connection")
	}
}

func TestHubCloseAll(t *testing.T) {
	h := NewHub(nil, nil)
	a := detachedConn("a", 1)
	h.add(a)
	h.CloseAll("bye")

	select {
	case <-a.done:
	case <-time.After(time.Second):
		t.Fatalf("connection not closed")
	}
	if a.closeCode != websocket.CloseGoingAway || a.closeReason != "bye" {
		t.Fatalf("close: %d %q", a.closeCode, a.closeReason)
	}
}
