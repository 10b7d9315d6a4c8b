package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
	"github.com/cwrk-planet/ecotalk-server/internal/service"
	"github.com/cwrk-planet/ecotalk-server/internal/telemetry"
)

// session: адаптер одного соединения к сервисам. Все методы вызываются
// из read-горутины соединения, поэтому привязка к комнате не требует синхронизации.
type session struct {
	srv     *Server
	conn    *wsConn
	limiter *rate.Limiter
	log     *slog.Logger

	roomID        string
	participantID string
}

func newSession(srv *Server, c *wsConn) *session {
	var lim *rate.Limiter
	if srv.cfg.RateLimit > 0 {
		lim = rate.NewLimiter(rate.Limit(srv.cfg.RateLimit), srv.cfg.RateBurst)
	}
	return &session{
		srv:     srv,
		conn:    c,
		limiter: lim,
		log:     srv.log.With("conn", c.id, "user", c.identity.UserID),
	}
}

func (s *session) reply(name string, payload any) {
	s.srv.hub.Send(s.conn.id, service.Event{Name: name, Payload: payload})
}

func (s *session) replyError(op string, err error) {
	if op == TypeCreateRoom {
		s.reply(service.EventRoomCreationError, service.RoomCreationErrorPayload{Error: clientError(err)})
		return
	}
	s.reply(service.EventRoomError, service.RoomErrorPayload{Operation: op, Error: clientError(err)})
}

// clientError: текст ошибки для клиента без внутренних подробностей.
func clientError(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		return "Room is full"
	case errors.Is(err, domain.ErrDuplicateRoomID):
		return "Room ID already exists"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, domain.ErrParticipantNotFound):
		return "Participant not found"
	case errors.Is(err, domain.ErrMessageTooLong):
		return "Message is too long"
	case errors.Is(err, domain.ErrRateLimited):
		return "Rate limit exceeded"
	case errors.Is(err, domain.ErrMalformedEvent):
		return err.Error()
	default:
		return "Internal error"
	}
}

// handle разбирает один входящий кадр. Паника в обработчике не роняет соединение.
func (s *session) handle(ctx context.Context, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || strings.TrimSpace(in.Type) == "" {
		s.srv.metrics.Inc(metrics.EventsRejected)
		s.replyError("", fmt.Errorf("%w: bad envelope", domain.ErrMalformedEvent))
		return
	}

	ctx, span := telemetry.Tracer().Start(ctx, "ws "+in.Type,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ws.event", in.Type),
			attribute.String("ws.conn_id", s.conn.id),
		),
	)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			s.log.ErrorContext(ctx, "ws handler panic", "event", in.Type, "panic", rec)
			span.SetStatus(codes.Error, "panic")
			s.replyError(in.Type, fmt.Errorf("panic: %v", rec))
		}
	}()

	s.srv.metrics.Inc(metrics.EventsInbound)
	if s.limiter != nil && !s.limiter.Allow() {
		s.srv.metrics.Inc(metrics.EventsRateLimited)
		s.log.WarnContext(ctx, "ws event rate limited", "event", in.Type)
		s.replyError(in.Type, domain.ErrRateLimited)
		return
	}

	if err := s.dispatch(ctx, in); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.srv.metrics.Inc(metrics.EventsRejected)
		s.log.InfoContext(ctx, "ws event rejected", "event", in.Type, "err", err)
		s.replyError(in.Type, err)
	}
}

// dispatch возвращает ошибку, только если о ней надо сообщить клиенту.
func (s *session) dispatch(ctx context.Context, in inbound) error {
	switch in.Type {
	case TypeCreateRoom:
		return s.createRoom(ctx, in.Payload)
	case TypeJoinRoom:
		return s.joinRoom(ctx, in.Payload)
	case TypeLeaveRoom:
		return s.leaveRoom(ctx, in.Payload)
	case TypeSendMessage:
		return s.sendMessage(ctx, in.Payload)
	case TypeToggleAudio:
		return s.toggleAudio(ctx, in.Payload)
	case TypeToggleVideo:
		return s.toggleVideo(ctx, in.Payload)
	case TypeSignal, TypeOffer, TypeAnswer, TypeICECandidate:
		return s.signal(ctx, in.Type, in.Payload)
	case TypeGetRooms:
		s.reply(service.EventRoomsList, service.RoomsListPayload{Rooms: s.srv.rooms.ListPublicRooms()})
		return nil
	default:
		return fmt.Errorf("%w: unknown event %q", domain.ErrMalformedEvent, in.Type)
	}
}

// actorID: от чьего имени действует соединение в комнате roomID.
// Привязка соединения важнее; аутентифицированный id важнее заявленного клиентом.
func (s *session) actorID(roomID, claimed string) string {
	if s.participantID != "" && s.roomID == strings.TrimSpace(roomID) {
		return s.participantID
	}
	if s.conn.identity.IsAuthenticated {
		return s.conn.identity.UserID
	}
	if claimed = strings.TrimSpace(claimed); claimed != "" {
		return claimed
	}
	return s.conn.identity.UserID
}

func (s *session) createRoom(ctx context.Context, raw json.RawMessage) error {
	var p CreateRoomPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	_, err := s.srv.rooms.CreateRoom(ctx, s.conn.id, s.conn.identity.UserID, p.spec())
	return err
}

func (s *session) joinRoom(ctx context.Context, raw json.RawMessage) error {
	var p JoinRoomPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.RoomID) == "" {
		return fmt.Errorf("%w: roomId is required", domain.ErrMalformedEvent)
	}

	pid := s.conn.identity.UserID
	if !s.conn.identity.IsAuthenticated {
		if claimed := strings.TrimSpace(p.User.ID); claimed != "" {
			pid = claimed
		}
	}
	name := strings.TrimSpace(p.User.Name)
	if name == "" {
		name = pid
	}

	res, err := s.srv.members.Join(ctx, p.RoomID, domain.ParticipantSpec{
		ID:              pid,
		DisplayName:     name,
		AvatarRef:       p.User.Avatar,
		IsMuted:         p.User.IsMuted,
		IsVideoEnabled:  p.User.IsVideoEnabled,
		IsAuthenticated: s.conn.identity.IsAuthenticated,
	}, s.conn.id)
	if err != nil {
		return err
	}
	s.roomID, s.participantID = res.Snapshot.Room.ID, res.Participant.ID
	return nil
}

func (s *session) leaveRoom(ctx context.Context, raw json.RawMessage) error {
	var p LeaveRoomPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	pid := s.actorID(p.RoomID, p.UserID)
	bound := s.roomID == strings.TrimSpace(p.RoomID) && s.participantID == pid

	var err error
	if bound {
		// членство могло перейти к другому соединению после переподключения
		_, err = s.srv.members.LeaveOwned(ctx, p.RoomID, pid, s.conn.id)
		s.roomID, s.participantID = "", ""
	} else {
		_, err = s.srv.members.Leave(ctx, p.RoomID, pid)
	}
	if errors.Is(err, domain.ErrParticipantNotFound) || errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, service.ErrNotConnectionOwner) {
		// повторный leave — не ошибка для клиента
		s.log.DebugContext(ctx, "leave ignored", "room", p.RoomID, "participant", pid, "err", err)
		return nil
	}
	return err
}

func (s *session) sendMessage(ctx context.Context, raw json.RawMessage) error {
	var p SendMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	ts, err := parseTimestamp(p.Message.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp: %v", domain.ErrMalformedEvent, err)
	}
	_, err = s.srv.chat.PostMessage(ctx, p.RoomID, domain.MessageSpec{
		ID:         strings.TrimSpace(p.Message.ID),
		SenderID:   s.actorID(p.RoomID, p.Message.SenderID),
		SenderName: p.Message.SenderName,
		Content:    p.Message.Content,
		Timestamp:  ts,
	})
	return err
}

func (s *session) toggleAudio(ctx context.Context, raw json.RawMessage) error {
	var p ToggleAudioPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.IsMuted == nil {
		return fmt.Errorf("%w: isMuted is required", domain.ErrMalformedEvent)
	}
	s.srv.members.ToggleAudio(ctx, p.RoomID, s.actorID(p.RoomID, p.UserID), *p.IsMuted)
	return nil
}

func (s *session) toggleVideo(ctx context.Context, raw json.RawMessage) error {
	var p ToggleVideoPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.IsVideoEnabled == nil {
		return fmt.Errorf("%w: isVideoEnabled is required", domain.ErrMalformedEvent)
	}
	s.srv.members.ToggleVideo(ctx, p.RoomID, s.actorID(p.RoomID, p.UserID), *p.IsVideoEnabled)
	return nil
}

// signal работает best-effort: ошибки маршрутизации только логируются.
func (s *session) signal(ctx context.Context, eventType string, raw json.RawMessage) error {
	var p SignalInPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	body := p.body(eventType)
	if strings.TrimSpace(p.To) == "" || len(body) == 0 {
		return fmt.Errorf("%w: to and signal are required", domain.ErrMalformedEvent)
	}

	from := s.participantID
	if from == "" || s.roomID != strings.TrimSpace(p.RoomID) {
		from = strings.TrimSpace(p.From)
	}
	if from == "" {
		from = s.conn.id
	}

	kind := signalKindForEvent(eventType, body)
	if err := s.srv.chat.RelaySignal(ctx, p.RoomID, from, p.To, kind, body); err != nil {
		s.log.DebugContext(ctx, "signal not relayed", "room", p.RoomID, "to", p.To, "err", err)
	}
	return nil
}
