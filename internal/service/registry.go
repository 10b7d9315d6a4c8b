package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
)

type DestroyPolicy string

const (
	DestroyDelayed   DestroyPolicy = "delayed"
	DestroyImmediate DestroyPolicy = "immediate"
)

const (
	DefaultDestroyGrace     = 30 * time.Second
	DefaultMaxMessageLength = 4000
	DefaultMaxRoomIDLength  = 128
)

// Timer: отменяемая отложенная задача.
type Timer interface {
	Stop() bool
}

// Scheduler откладывает вызов f; в тестах подменяется ручным.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Options struct {
	DestroyPolicy        DestroyPolicy
	DestroyGrace         time.Duration
	MaxParticipantsLimit int
	MaxMessageLength     int
	SignalProfile        SignalProfile

	Scheduler Scheduler
	Now       func() time.Time
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DestroyPolicy != DestroyImmediate {
		o.DestroyPolicy = DestroyDelayed
	}
	if o.DestroyGrace <= 0 {
		o.DestroyGrace = DefaultDestroyGrace
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = DefaultMaxMessageLength
	}
	if o.SignalProfile != SignalProfileSplit {
		o.SignalProfile = SignalProfileUnified
	}
	if o.Scheduler == nil {
		o.Scheduler = realScheduler{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type pendingDestroy struct {
	timer Timer
	gen   uint64
}

// Registry: единственный владелец состояния комнат. Один мьютекс защищает карту комнат,
// участников и сообщения всех комнат, а также таблицу отложенных удалений.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*domain.Room
	pending map[string]pendingDestroy
	gen     uint64
	closed  bool

	notifier Notifier
	opts     Options
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewRegistry(notifier Notifier, opts Options) *Registry {
	opts = opts.withDefaults()
	r := &Registry{
		rooms:    make(map[string]*domain.Room),
		pending:  make(map[string]pendingDestroy),
		notifier: notifier,
		opts:     opts,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
	r.metrics.GaugeFunc("rooms_live", "Rooms currently held in memory.", func() float64 {
		r.mu.Lock()
		defer r.mu.Unlock()
		return float64(len(r.rooms))
	})
	return r
}

// SetNotifier нужен, когда хаб создаётся после реестра.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

func (r *Registry) Options() Options { return r.opts }

// Close отменяет все отложенные удаления.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, id)
	}
}

// PendingDestroys: число комнат, ожидающих удаления.
func (r *Registry) PendingDestroys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) now() time.Time { return r.opts.Now() }

// sortedLocked: комнаты в порядке создания.
func (r *Registry) sortedLocked() []*domain.Room {
	out := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Info(), out[j].Info()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// insertLockedExcept добавляет комнату и рассылает room-added всем, кроме exceptConnID.
func (r *Registry) insertLockedExcept(spec domain.RoomSpec, exceptConnID string) *domain.Room {
	room := domain.NewRoom(spec, r.now())
	r.rooms[room.ID()] = room
	r.metrics.Inc(metrics.RoomsCreated)

	if !room.Info().IsPrivate {
		r.notify().BroadcastAll(exceptConnID, Event{Name: EventRoomAdded, Payload: RoomAddedPayload{Room: room.Summary()}})
	}
	return room
}

func (r *Registry) getOrCreateLocked(roomID, createdBy string) *domain.Room {
	if room, ok := r.rooms[roomID]; ok {
		return room
	}
	room := r.insertLockedExcept(domain.RoomSpec{
		ID:        roomID,
		Name:      "Room " + roomID,
		CreatedBy: createdBy,
	}, "")
	r.scheduleDestroyLocked(room)
	r.log.Info("room auto-created", "room", roomID, "created_by", createdBy)
	return room
}

// notify возвращает no-op, пока хаб не подключён.
func (r *Registry) notify() Notifier {
	if r.notifier == nil {
		return nopNotifier{}
	}
	return r.notifier
}

func (r *Registry) cancelDestroyLocked(roomID string) {
	p, ok := r.pending[roomID]
	if !ok {
		return
	}
	p.timer.Stop()
	delete(r.pending, roomID)
	r.log.Debug("room destroy cancelled", "room", roomID)
}

// onEmptyLocked применяет политику удаления к опустевшей комнате.
func (r *Registry) onEmptyLocked(room *domain.Room) {
	if r.opts.DestroyPolicy == DestroyImmediate {
		r.removeLocked(room.ID())
		return
	}
	r.scheduleDestroyLocked(room)
}

// scheduleDestroyLocked ставит удаление через grace; повторный вызов перезапускает таймер.
func (r *Registry) scheduleDestroyLocked(room *domain.Room) {
	if r.closed {
		return
	}

	r.cancelDestroyLocked(room.ID())
	r.gen++
	gen, id := r.gen, room.ID()
	t := r.opts.Scheduler.AfterFunc(r.opts.DestroyGrace, func() { r.fireDestroy(id, gen) })
	r.pending[id] = pendingDestroy{timer: t, gen: gen}
	r.log.Debug("room destroy scheduled", "room", id, "grace", r.opts.DestroyGrace)
}

// fireDestroy перепроверяет условия в момент срабатывания: таймер мог быть
// переназначен, а в комнату мог кто-то вернуться.
func (r *Registry) fireDestroy(roomID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[roomID]
	if !ok || p.gen != gen {
		return
	}
	delete(r.pending, roomID)

	room, ok := r.rooms[roomID]
	if !ok || !room.IsEmpty() {
		return
	}
	r.removeLocked(roomID)
}

func (r *Registry) removeLocked(roomID string) bool {
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	r.cancelDestroyLocked(roomID)
	delete(r.rooms, roomID)
	r.metrics.Inc(metrics.RoomsDestroyed)
	r.log.Info("room destroyed", "room", roomID)

	if !room.Info().IsPrivate {
		r.notify().BroadcastAll("", Event{Name: EventRoomRemoved, Payload: RoomRemovedPayload{RoomID: roomID}})
	}
	return true
}

type nopNotifier struct{}

func (nopNotifier) Send(string, Event)         {}
func (nopNotifier) Broadcast([]string, Event)  {}
func (nopNotifier) BroadcastAll(string, Event) {}
