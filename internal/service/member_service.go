package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
)

type MemberService struct {
	reg *Registry
}

func NewMemberService(reg *Registry) *MemberService {
	return &MemberService{reg: reg}
}

type JoinResult struct {
	Participant domain.Participant
	Snapshot    domain.RoomSnapshot
	Rejoined    bool
}

type LeaveOutcome struct {
	RoomID      string
	Participant domain.Participant
	NewHost     *domain.Participant
	RoomEmpty   bool
}

// Join добавляет участника в комнату (создаёт её при необходимости).
// Соединение, уже привязанное к другому членству, сначала из него выводится.
func (s *MemberService) Join(ctx context.Context, roomID string, spec domain.ParticipantSpec, connID string) (JoinResult, error) {
	roomID = strings.TrimSpace(roomID)
	spec.ID = strings.TrimSpace(spec.ID)
	if roomID == "" || spec.ID == "" || connID == "" {
		return JoinResult{}, fmt.Errorf("join: %w: roomId and user id are required", domain.ErrMalformedEvent)
	}
	if len(roomID) > DefaultMaxRoomIDLength {
		return JoinResult{}, fmt.Errorf("join: %w: room id too long", domain.ErrMalformedEvent)
	}

	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	// прежние членства этого соединения в той же комнате освобождают место под новый id
	var replaced []string
	if room, ok := s.reg.rooms[roomID]; ok {
		for _, pid := range room.ByConnection(connID) {
			if pid != spec.ID {
				replaced = append(replaced, pid)
			}
		}
		if _, exists := room.Participant(spec.ID); !exists && room.Len()-len(replaced) >= room.Info().MaxParticipants {
			return JoinResult{}, fmt.Errorf("join %q: %w", roomID, domain.ErrRoomFull)
		}
	}

	// у соединения не больше одного членства
	for _, room := range s.reg.sortedLocked() {
		if room.ID() == roomID {
			continue
		}
		for _, pid := range room.ByConnection(connID) {
			s.leaveLocked(ctx, room, pid)
		}
	}

	room := s.reg.getOrCreateLocked(roomID, spec.ID)
	s.reg.cancelDestroyLocked(roomID)

	// комната не удаляется между уходом старого id и входом нового
	for _, pid := range replaced {
		s.removeLocked(ctx, room, pid)
	}

	p, rejoined, err := room.Add(spec, connID, s.reg.now())
	if err != nil {
		if room.IsEmpty() {
			s.reg.onEmptyLocked(room)
		}
		return JoinResult{}, fmt.Errorf("join %q: %w", roomID, err)
	}

	snap := room.Snapshot()
	n := s.reg.notify()
	n.Send(connID, Event{Name: EventRoomState, Payload: snap})
	n.Broadcast(room.Connections(p.ID), Event{Name: EventUserJoined, Payload: UserJoinedPayload{
		UserID:       p.ID,
		User:         p,
		Participants: room.ParticipantIDs(),
	}})

	if !rejoined {
		s.reg.metrics.Inc(metrics.ParticipantsJoined)
	}
	s.reg.log.InfoContext(ctx, "participant joined", "room", roomID, "participant", p.ID, "conn", connID, "host", p.IsHost, "rejoined", rejoined)
	return JoinResult{Participant: p, Snapshot: snap, Rejoined: rejoined}, nil
}

// Leave выводит участника из комнаты. Отсутствие участника не является ошибкой протокола,
// но возвращается ErrParticipantNotFound и никаких событий не рассылается.
func (s *MemberService) Leave(ctx context.Context, roomID, participantID string) (LeaveOutcome, error) {
	return s.leave(ctx, roomID, participantID, "")
}

// LeaveOwned как Leave, но только если участник всё ещё привязан к connID.
// Соединение, у которого членство перехватило переподключение, никого не выводит.
func (s *MemberService) LeaveOwned(ctx context.Context, roomID, participantID, connID string) (LeaveOutcome, error) {
	return s.leave(ctx, roomID, participantID, connID)
}

func (s *MemberService) leave(ctx context.Context, roomID, participantID, connID string) (LeaveOutcome, error) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	room, ok := s.reg.rooms[strings.TrimSpace(roomID)]
	if !ok {
		return LeaveOutcome{}, fmt.Errorf("leave %q: %w", roomID, domain.ErrRoomNotFound)
	}
	if connID != "" {
		if p, ok := room.Participant(participantID); ok && p.ConnectionRef != connID {
			return LeaveOutcome{}, fmt.Errorf("leave %q/%q: %w", roomID, participantID, ErrNotConnectionOwner)
		}
	}
	out, ok := s.leaveLocked(ctx, room, participantID)
	if !ok {
		return LeaveOutcome{}, fmt.Errorf("leave %q/%q: %w", roomID, participantID, domain.ErrParticipantNotFound)
	}
	return out, nil
}

// LeaveConnection обходит все комнаты и выводит участников, привязанных к соединению.
// Обход полный, без вспомогательного индекса.
func (s *MemberService) LeaveConnection(ctx context.Context, connID string) []LeaveOutcome {
	if connID == "" {
		return nil
	}
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	var outs []LeaveOutcome
	for _, room := range s.reg.sortedLocked() {
		for _, pid := range room.ByConnection(connID) {
			if out, ok := s.leaveLocked(ctx, room, pid); ok {
				outs = append(outs, out)
			}
		}
	}
	return outs
}

func (s *MemberService) leaveLocked(ctx context.Context, room *domain.Room, participantID string) (LeaveOutcome, bool) {
	out, ok := s.removeLocked(ctx, room, participantID)
	if ok && out.RoomEmpty {
		s.reg.onEmptyLocked(room)
	}
	return out, ok
}

// removeLocked выводит участника и рассылает события, не трогая политику удаления.
func (s *MemberService) removeLocked(ctx context.Context, room *domain.Room, participantID string) (LeaveOutcome, bool) {
	removed, newHost, ok := room.Remove(participantID)
	if !ok {
		return LeaveOutcome{}, false
	}

	remaining := room.Connections("")
	n := s.reg.notify()
	n.Broadcast(remaining, Event{Name: EventUserLeft, Payload: UserLeftPayload{UserID: removed.ID}})
	if newHost != nil {
		n.Broadcast(remaining, Event{Name: EventHostChanged, Payload: HostChangedPayload{UserID: newHost.ID, Name: newHost.DisplayName}})
	}
	n.Broadcast(remaining, Event{Name: EventParticipantsUpdated, Payload: ParticipantsUpdatedPayload{Participants: room.Participants()}})

	s.reg.metrics.Inc(metrics.ParticipantsLeft)
	args := []any{"room", room.ID(), "participant", removed.ID}
	if newHost != nil {
		args = append(args, "new_host", newHost.ID)
	}
	s.reg.log.InfoContext(ctx, "participant left", args...)

	return LeaveOutcome{RoomID: room.ID(), Participant: removed, NewHost: newHost, RoomEmpty: room.IsEmpty()}, true
}

// ToggleAudio меняет флаг и рассылает событие всей комнате, включая автора.
// Для отсутствующего участника ничего не делает и возвращает false.
func (s *MemberService) ToggleAudio(ctx context.Context, roomID, participantID string, muted bool) bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	room, ok := s.reg.rooms[strings.TrimSpace(roomID)]
	if !ok || !room.SetMuted(participantID, muted) {
		return false
	}
	s.reg.notify().Broadcast(room.Connections(""), Event{Name: EventUserAudioChanged, Payload: AudioChangedPayload{UserID: participantID, IsMuted: muted}})
	s.reg.log.DebugContext(ctx, "audio toggled", "room", room.ID(), "participant", participantID, "muted", muted)
	return true
}

func (s *MemberService) ToggleVideo(ctx context.Context, roomID, participantID string, enabled bool) bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	room, ok := s.reg.rooms[strings.TrimSpace(roomID)]
	if !ok || !room.SetVideoEnabled(participantID, enabled) {
		return false
	}
	s.reg.notify().Broadcast(room.Connections(""), Event{Name: EventUserVideoChanged, Payload: VideoChangedPayload{UserID: participantID, IsVideoEnabled: enabled}})
	s.reg.log.DebugContext(ctx, "video toggled", "room", room.ID(), "participant", participantID, "enabled", enabled)
	return true
}

// Participants: снимок участников комнаты.
func (s *MemberService) Participants(roomID string) ([]domain.Participant, error) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	room, ok := s.reg.rooms[strings.TrimSpace(roomID)]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room.Participants(), nil
}
