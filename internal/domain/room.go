package domain

import (
	"strings"
	"time"
)

const (
	DefaultCategory        = "General"
	DefaultLanguage        = "English"
	DefaultMaxParticipants = 10
)

type RoomSpec struct {
	ID              string
	Name            string
	Description     string
	Category        string
	Languages       []string
	MaxParticipants int
	IsPrivate       bool
	CreatedBy       string
}

// WithDefaults подставляет значения по умолчанию для незаданных полей.
func (s RoomSpec) WithDefaults() RoomSpec {
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	if strings.TrimSpace(s.Category) == "" {
		s.Category = DefaultCategory
	}
	langs := make([]string, 0, len(s.Languages))
	for _, l := range s.Languages {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	if len(langs) == 0 {
		langs = []string{DefaultLanguage}
	}
	s.Languages = langs
	if s.MaxParticipants <= 0 {
		s.MaxParticipants = DefaultMaxParticipants
	}
	return s
}

// RoomInfo: метаданные комнаты без участников и сообщений.
type RoomInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	Languages       []string  `json:"languages"`
	MaxParticipants int       `json:"maxParticipants"`
	IsPrivate       bool      `json:"isPrivate"`
	CreatedAt       time.Time `json:"createdAt"`
	CreatedBy       string    `json:"createdBy"`
}

type RoomSummary struct {
	RoomInfo
	ParticipantCount int `json:"participantCount"`
}

// RoomCount: строка ответа GET /api/rooms.
type RoomCount struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
}

type RoomSnapshot struct {
	Room         RoomInfo      `json:"room"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
}

// Room: агрегат одной комнаты. Не потокобезопасен: синхронизацию обеспечивает владелец (реестр).
type Room struct {
	info RoomInfo

	participants map[string]*Participant
	order        []string // порядок входа, по нему выбирается следующий хост
	messages     []Message
}

func NewRoom(spec RoomSpec, now time.Time) *Room {
	spec = spec.WithDefaults()
	return &Room{
		info: RoomInfo{
			ID:              spec.ID,
			Name:            spec.Name,
			Description:     spec.Description,
			Category:        spec.Category,
			Languages:       append([]string(nil), spec.Languages...),
			MaxParticipants: spec.MaxParticipants,
			IsPrivate:       spec.IsPrivate,
			CreatedAt:       now,
			CreatedBy:       spec.CreatedBy,
		},
		participants: make(map[string]*Participant),
	}
}

func (r *Room) ID() string { return r.info.ID }

func (r *Room) Info() RoomInfo {
	info := r.info
	info.Languages = append([]string(nil), r.info.Languages...)
	return info
}

func (r *Room) Summary() RoomSummary {
	return RoomSummary{RoomInfo: r.Info(), ParticipantCount: len(r.order)}
}

func (r *Room) Snapshot() RoomSnapshot {
	return RoomSnapshot{
		Room:         r.Info(),
		Participants: r.Participants(),
		Messages:     r.Messages(),
	}
}

func (r *Room) Len() int      { return len(r.order) }
func (r *Room) IsEmpty() bool { return len(r.order) == 0 }

// HasCapacity: есть ли свободное место (используется для публичного списка).
func (r *Room) HasCapacity() bool { return len(r.order) < r.info.MaxParticipants }

func (r *Room) Participant(id string) (Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants возвращает копии участников в порядке входа.
func (r *Room) Participants() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.participants[id])
	}
	return out
}

func (r *Room) ParticipantIDs() []string {
	return append([]string(nil), r.order...)
}

// Connections: текущие connection ref всех участников, кроме exceptID.
func (r *Room) Connections(exceptID string) []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if id == exceptID {
			continue
		}
		if ref := r.participants[id].ConnectionRef; ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

func (r *Room) Host() (Participant, bool) {
	for _, id := range r.order {
		if p := r.participants[id]; p.IsHost {
			return *p, true
		}
	}
	return Participant{}, false
}

// Add добавляет участника. Повторный вход с тем же id — это переподключение:
// обновляется только connection ref, флаги и хост сохраняются, лимит не проверяется.
func (r *Room) Add(spec ParticipantSpec, connRef string, now time.Time) (p Participant, rejoined bool, err error) {
	if existing, ok := r.participants[spec.ID]; ok {
		existing.ConnectionRef = connRef
		if name := strings.TrimSpace(spec.DisplayName); name != "" {
			existing.DisplayName = name
		}
		if spec.AvatarRef != "" {
			existing.AvatarRef = spec.AvatarRef
		}
		existing.IsAuthenticated = spec.IsAuthenticated
		return *existing, true, nil
	}
	if len(r.order) >= r.info.MaxParticipants {
		return Participant{}, false, ErrRoomFull
	}

	np := &Participant{
		ID:              spec.ID,
		DisplayName:     strings.TrimSpace(spec.DisplayName),
		AvatarRef:       spec.AvatarRef,
		ConnectionRef:   connRef,
		IsMuted:         spec.IsMuted,
		IsVideoEnabled:  spec.IsVideoEnabled,
		IsHost:          len(r.order) == 0,
		IsAuthenticated: spec.IsAuthenticated,
		JoinedAt:        now,
	}
	r.participants[np.ID] = np
	r.order = append(r.order, np.ID)
	return *np, false, nil
}

// Remove удаляет участника. Если уходит хост, хостом становится первый оставшийся
// по порядку входа; newHost возвращается только в этом случае.
func (r *Room) Remove(id string) (removed Participant, newHost *Participant, ok bool) {
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, nil, false
	}
	delete(r.participants, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if p.IsHost && len(r.order) > 0 {
		next := r.participants[r.order[0]]
		next.IsHost = true
		promoted := *next
		newHost = &promoted
	}
	return *p, newHost, true
}

// Resolve ищет участника сначала по логическому id, затем по connection ref.
func (r *Room) Resolve(ref string) (Participant, bool) {
	if ref == "" {
		return Participant{}, false
	}
	if p, ok := r.participants[ref]; ok {
		return *p, true
	}
	for _, id := range r.order {
		if p := r.participants[id]; p.ConnectionRef == ref {
			return *p, true
		}
	}
	return Participant{}, false
}

// ByConnection: id участников, привязанных к соединению.
func (r *Room) ByConnection(connRef string) []string {
	var ids []string
	for _, id := range r.order {
		if r.participants[id].ConnectionRef == connRef {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Room) SetMuted(id string, muted bool) bool {
	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.IsMuted = muted
	return true
}

func (r *Room) SetVideoEnabled(id string, enabled bool) bool {
	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.IsVideoEnabled = enabled
	return true
}

// AppendMessage добавляет сообщение в лог; самое старое вытесняется при превышении лимита.
func (r *Room) AppendMessage(m Message) Message {
	r.messages = append(r.messages, m)
	if over := len(r.messages) - MessageLogLimit; over > 0 {
		copy(r.messages, r.messages[over:])
		clear(r.messages[MessageLogLimit:])
		r.messages = r.messages[:MessageLogLimit]
	}
	return m
}

func (r *Room) Messages() []Message {
	return append([]Message(nil), r.messages...)
}
