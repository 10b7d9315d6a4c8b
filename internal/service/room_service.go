package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/idgen"
)

type RoomService struct {
	reg *Registry
}

func NewRoomService(reg *Registry) *RoomService {
	return &RoomService{reg: reg}
}

// CreateRoom создаёт комнату. Создатель получает room-created, остальные сессии получают room-added.
func (s *RoomService) CreateRoom(ctx context.Context, creatorConnID, createdBy string, spec domain.RoomSpec) (domain.RoomInfo, error) {
	spec = spec.WithDefaults()
	if len(spec.ID) > DefaultMaxRoomIDLength {
		return domain.RoomInfo{}, fmt.Errorf("%w: room id too long", domain.ErrMalformedEvent)
	}
	if spec.Name == "" {
		return domain.RoomInfo{}, fmt.Errorf("%w: name is required", domain.ErrMalformedEvent)
	}
	if limit := s.reg.opts.MaxParticipantsLimit; limit > 0 && spec.MaxParticipants > limit {
		spec.MaxParticipants = limit
	}
	if spec.CreatedBy == "" {
		spec.CreatedBy = createdBy
	}

	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	if spec.ID == "" {
		spec.ID = idgen.NewRoomID()
	} else if _, ok := s.reg.rooms[spec.ID]; ok {
		return domain.RoomInfo{}, fmt.Errorf("create room %q: %w", spec.ID, domain.ErrDuplicateRoomID)
	}

	// room-added уходит всем остальным до подтверждения создателю
	room := s.reg.insertLockedExcept(spec, creatorConnID)
	info := room.Info()
	if creatorConnID != "" {
		s.reg.notify().Send(creatorConnID, Event{Name: EventRoomCreated, Payload: RoomCreatedPayload{RoomID: info.ID, Room: info}})
	}

	// в созданную комнату могут так и не зайти: даём ей тот же grace, что и опустевшей
	s.reg.scheduleDestroyLocked(room)

	s.reg.log.InfoContext(ctx, "room created", "room", info.ID, "name", info.Name, "private", info.IsPrivate, "created_by", info.CreatedBy)
	return info, nil
}

// GetOrAutoCreate возвращает комнату, при отсутствии создаёт заглушку "Room <id>".
func (s *RoomService) GetOrAutoCreate(roomID, createdBy string) domain.RoomInfo {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		roomID = idgen.NewRoomID()
	}

	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.reg.getOrCreateLocked(roomID, createdBy).Info()
}

// ListPublicRooms: открытые комнаты, в которых есть место.
func (s *RoomService) ListPublicRooms() []domain.RoomSummary {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	out := make([]domain.RoomSummary, 0, len(s.reg.rooms))
	for _, room := range s.reg.sortedLocked() {
		if room.Info().IsPrivate || !room.HasCapacity() {
			continue
		}
		out = append(out, room.Summary())
	}
	return out
}

// ListRooms: все живые комнаты с числом участников.
func (s *RoomService) ListRooms() []domain.RoomCount {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	out := make([]domain.RoomCount, 0, len(s.reg.rooms))
	for _, room := range s.reg.sortedLocked() {
		out = append(out, domain.RoomCount{ID: room.ID(), Participants: room.Len()})
	}
	return out
}

func (s *RoomService) GetRoom(roomID string) (domain.RoomSummary, error) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	room, ok := s.reg.rooms[strings.TrimSpace(roomID)]
	if !ok {
		return domain.RoomSummary{}, domain.ErrRoomNotFound
	}
	return room.Summary(), nil
}

// DeleteRoom идемпотентен: повторное удаление ничего не делает.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID string) bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	removed := s.reg.removeLocked(strings.TrimSpace(roomID))
	if removed {
		s.reg.log.InfoContext(ctx, "room deleted", "room", roomID)
	}
	return removed
}
