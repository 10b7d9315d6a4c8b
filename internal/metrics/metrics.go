package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// Значения лейбла event.
const (
	EventsInbound      = "ws_events_inbound"
	EventsRejected     = "ws_events_rejected"
	EventsRateLimited  = "ws_events_rate_limited"
	ConnectionsOpened  = "ws_connections_opened"
	ConnectionsClosed  = "ws_connections_closed"
	SendBufferOverflow = "ws_send_buffer_overflow"
	RoomsCreated       = "rooms_created"
	RoomsDestroyed     = "rooms_destroyed"
	ParticipantsJoined = "participants_joined"
	ParticipantsLeft   = "participants_left"
	MessagesPosted     = "messages_posted"
	MessagesArchived   = "messages_archived"
	ArchiveErrors      = "messages_archive_errors"
	SignalsRelayed     = "signals_relayed"
	SignalsDropped     = "signals_dropped"
)

const namespace = "ecotalk"

// Metrics: счётчики событий сервера на собственном prometheus.Registry.
// Нулевой указатель допустим: все методы no-op.
type Metrics struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Signaling server event counters.",
		}, []string{"event"}),
	}
	m.reg.MustRegister(
		m.events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Inc(name string) { m.Add(name, 1) }

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Add(float64(delta))
}

// Get читает текущее значение счётчика.
func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	var out dto.Metric
	if err := m.events.WithLabelValues(name).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

// Snapshot: все счётчики events_total по значению лейбла. Читает только CounterVec,
// поэтому не вызывает GaugeFunc и безопасен под чужими локами.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	ch := make(chan prometheus.Metric)
	go func() {
		m.events.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		for _, lp := range pb.GetLabel() {
			if lp.GetName() == "event" {
				out[lp.GetValue()] = uint64(pb.GetCounter().GetValue())
			}
		}
	}
	return out
}

// GaugeFunc регистрирует gauge, значение которого читается при каждом scrape.
// Повторная регистрация того же имени игнорируется.
func (m *Metrics) GaugeFunc(name, help string, f func() float64) {
	if m == nil {
		return
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, f)
	if err := m.reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}
