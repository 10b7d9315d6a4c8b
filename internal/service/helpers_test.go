package service

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
)

type recorder struct {
	mu     sync.Mutex
	conns  []string
	events map[string][]Event
}

func newRecorder(conns ...string) *recorder {
	return &recorder{conns: conns, events: make(map[string][]Event)}
}

func (r *recorder) Send(connID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[connID] = append(r.events[connID], ev)
}

func (r *recorder) Broadcast(connIDs []string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range connIDs {
		r.events[id] = append(r.events[id], ev)
	}
}

func (r *recorder) BroadcastAll(except string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.conns {
		if id != except {
			r.events[id] = append(r.events[id], ev)
		}
	}
}

func (r *recorder) names(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events[connID] {
		out = append(out, ev.Name)
	}
	return out
}

func (r *recorder) last(connID, name string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events[connID]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Name == name {
			return evs[i], true
		}
	}
	return Event{}, false
}

func (r *recorder) count(connID, name string) int {
	n := 0
	for _, got := range r.names(connID) {
		if got == name {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[string][]Event)
}

type fakeTimer struct {
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// fakeScheduler срабатывает только по явному вызову fireAll.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(_ time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()
	for _, t := range timers {
		if t.stopped || t.fired {
			continue
		}
		t.fired = true
		t.f()
	}
}

// fireStale вызывает даже остановленные таймеры: так проверяется перепроверка при срабатывании.
func (s *fakeScheduler) fireStale() {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()
	for _, t := range timers {
		t.fired = true
		t.f()
	}
}

type fixture struct {
	rec     *recorder
	sched   *fakeScheduler
	reg     *Registry
	rooms   *RoomService
	members *MemberService
	chat    *ChatService
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts Options, conns ...string) *fixture {
	t.Helper()
	f := &fixture{rec: newRecorder(conns...), sched: &fakeScheduler{}, metrics: metrics.New()}
	opts.Scheduler = f.sched
	opts.Metrics = f.metrics
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Now == nil {
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		var mu sync.Mutex
		tick := 0
		opts.Now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick++
			return base.Add(time.Duration(tick) * time.Millisecond)
		}
	}
	f.reg = NewRegistry(f.rec, opts)
	f.rooms = NewRoomService(f.reg)
	f.members = NewMemberService(f.reg)
	f.chat = NewChatService(f.reg, nil)
	t.Cleanup(f.reg.Close)
	return f
}
