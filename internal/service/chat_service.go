package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/idgen"
	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
)

// Archive: необязательное долговременное хранилище чата. Комнаты из него не восстанавливаются.
type Archive interface {
	Save(ctx context.Context, roomID string, m domain.Message) error
	History(ctx context.Context, roomID, after string, limit int) ([]domain.Message, string, error)
}

const archiveTimeout = 3 * time.Second

type ChatService struct {
	reg     *Registry
	archive Archive
}

func NewChatService(reg *Registry, archive Archive) *ChatService {
	return &ChatService{reg: reg, archive: archive}
}

func (s *ChatService) HasArchive() bool { return s.archive != nil }

// PostMessage добавляет сообщение в лог комнаты и рассылает new-message всем, включая отправителя.
func (s *ChatService) PostMessage(ctx context.Context, roomID string, spec domain.MessageSpec) (domain.Message, error) {
	roomID = strings.TrimSpace(roomID)
	content := strings.TrimSpace(spec.Content)
	if roomID == "" || content == "" {
		return domain.Message{}, fmt.Errorf("send message: %w: roomId and content are required", domain.ErrMalformedEvent)
	}
	if utf8.RuneCountInString(content) > s.reg.opts.MaxMessageLength {
		return domain.Message{}, fmt.Errorf("send message: %w", domain.ErrMessageTooLong)
	}

	msg, err := s.append(ctx, roomID, spec, content)
	if err != nil {
		return domain.Message{}, err
	}

	s.store(ctx, roomID, msg)
	return msg, nil
}

func (s *ChatService) append(ctx context.Context, roomID string, spec domain.MessageSpec, content string) (domain.Message, error) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	room, ok := s.reg.rooms[roomID]
	if !ok {
		return domain.Message{}, fmt.Errorf("send message to %q: %w", roomID, domain.ErrRoomNotFound)
	}

	now := s.reg.now()
	msg := domain.Message{
		ID:         spec.ID,
		SenderID:   spec.SenderID,
		SenderName: strings.TrimSpace(spec.SenderName),
		Content:    content,
		Timestamp:  spec.Timestamp,
	}
	if msg.ID == "" {
		msg.ID = idgen.NewULID(now)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.SenderName == "" {
		if p, ok := room.Resolve(msg.SenderID); ok {
			msg.SenderName = p.DisplayName
		}
	}

	room.AppendMessage(msg)
	s.reg.notify().Broadcast(room.Connections(""), Event{Name: EventNewMessage, Payload: NewMessagePayload{Message: msg}})
	s.reg.metrics.Inc(metrics.MessagesPosted)
	s.reg.log.DebugContext(ctx, "message posted", "room", roomID, "message", msg.ID, "sender", msg.SenderID)
	return msg, nil
}

// store пишет в архив уже после снятия лока реестра; ошибка архива не влияет на доставку.
func (s *ChatService) store(ctx context.Context, roomID string, msg domain.Message) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	if err := s.archive.Save(ctx, roomID, msg); err != nil {
		s.reg.metrics.Inc(metrics.ArchiveErrors)
		s.reg.log.WarnContext(ctx, "archive message failed", "room", roomID, "message", msg.ID, "err", err)
		return
	}
	s.reg.metrics.Inc(metrics.MessagesArchived)
}

// History отдаёт архив сообщений комнаты постранично.
func (s *ChatService) History(ctx context.Context, roomID, after string, limit int) ([]domain.Message, string, error) {
	if s.archive == nil {
		return nil, "", ErrArchiveDisabled
	}
	return s.archive.History(ctx, strings.TrimSpace(roomID), after, limit)
}

// RelaySignal доставляет сигнальный пейлоад только текущему соединению получателя,
// помечая его логическим id отправителя. Обе стороны ищутся по id, затем по connection ref.
func (s *ChatService) RelaySignal(ctx context.Context, roomID, from, to string, kind domain.SignalKind, payload json.RawMessage) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	room, ok := s.reg.rooms[strings.TrimSpace(roomID)]
	if !ok {
		s.reg.metrics.Inc(metrics.SignalsDropped)
		s.reg.log.WarnContext(ctx, "signal dropped: room not found", "room", roomID, "from", from, "to", to)
		return fmt.Errorf("relay %s: %w", kind, domain.ErrRoomNotFound)
	}

	sender, okFrom := room.Resolve(from)
	recipient, okTo := room.Resolve(to)
	if !okFrom || !okTo || recipient.ConnectionRef == "" {
		s.reg.metrics.Inc(metrics.SignalsDropped)
		s.reg.log.WarnContext(ctx, "signal dropped: unknown participant", "room", roomID, "from", from, "to", to, "kind", kind.String())
		return fmt.Errorf("relay %s from %q to %q: %w", kind, from, to, domain.ErrUnknownParticipant)
	}

	s.reg.notify().Send(recipient.ConnectionRef, signalEvent(s.reg.opts.SignalProfile, kind, sender.ID, payload))
	s.reg.metrics.Inc(metrics.SignalsRelayed)
	s.reg.log.DebugContext(ctx, "signal relayed", "room", roomID, "from", sender.ID, "to", recipient.ID, "kind", kind.String())
	return nil
}
