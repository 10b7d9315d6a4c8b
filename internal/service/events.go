package service

import (
	"encoding/json"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
)

// Исходящие события.
const (
	EventConnected           = "connected"
	EventRoomCreated         = "room-created"
	EventRoomAdded           = "room-added"
	EventRoomCreationError   = "room-creation-error"
	EventRoomRemoved         = "room-removed"
	EventRoomState           = "room-state"
	EventRoomError           = "room-error"
	EventUserJoined          = "user-joined"
	EventUserLeft            = "user-left"
	EventHostChanged         = "host-changed"
	EventParticipantsUpdated = "participants-updated"
	EventNewMessage          = "new-message"
	EventUserAudioChanged    = "user-audio-changed"
	EventUserVideoChanged    = "user-video-changed"
	EventSignal              = "signal"
	EventOffer               = "offer"
	EventAnswer              = "answer"
	EventICECandidate        = "ice-candidate"
	EventRoomsList           = "rooms-list"
)

type Event struct {
	Name    string
	Payload any
}

// Notifier доставляет события соединениям. Вызывается под локом реестра,
// поэтому реализация не должна блокироваться и не должна обращаться к реестру.
type Notifier interface {
	Send(connID string, ev Event)
	Broadcast(connIDs []string, ev Event)
	BroadcastAll(exceptConnID string, ev Event)
}

type ConnectedPayload struct {
	ConnectionID    string `json:"connectionId"`
	UserID          string `json:"userId"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

type RoomCreatedPayload struct {
	RoomID string          `json:"roomId"`
	Room   domain.RoomInfo `json:"room"`
}

type RoomAddedPayload struct {
	Room domain.RoomSummary `json:"room"`
}

type RoomRemovedPayload struct {
	RoomID string `json:"roomId"`
}

type RoomCreationErrorPayload struct {
	Error string `json:"error"`
}

type RoomErrorPayload struct {
	Operation string `json:"operation,omitempty"`
	Error     string `json:"error"`
}

type UserJoinedPayload struct {
	UserID       string             `json:"userId"`
	User         domain.Participant `json:"user"`
	Participants []string           `json:"participants"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

type HostChangedPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type ParticipantsUpdatedPayload struct {
	Participants []domain.Participant `json:"participants"`
}

type NewMessagePayload struct {
	Message domain.Message `json:"message"`
}

type AudioChangedPayload struct {
	UserID  string `json:"userId"`
	IsMuted bool   `json:"isMuted"`
}

type VideoChangedPayload struct {
	UserID         string `json:"userId"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

type RoomsListPayload struct {
	Rooms []domain.RoomSummary `json:"rooms"`
}

type SignalPayload struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type OfferPayload struct {
	From  string          `json:"from"`
	Offer json.RawMessage `json:"offer"`
}

type AnswerPayload struct {
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer"`
}

type CandidatePayload struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// SignalProfile задаёт именование исходящих сигнальных событий.
type SignalProfile string

const (
	SignalProfileUnified SignalProfile = "unified"
	SignalProfileSplit   SignalProfile = "split"
)

// signalEvent собирает событие для получателя. В split-профиле известные виды
// уходят отдельными событиями, всё остальное идёт как signal.
func signalEvent(profile SignalProfile, kind domain.SignalKind, from string, payload json.RawMessage) Event {
	if profile == SignalProfileSplit {
		switch kind {
		case domain.SignalOffer:
			return Event{Name: EventOffer, Payload: OfferPayload{From: from, Offer: payload}}
		case domain.SignalAnswer:
			return Event{Name: EventAnswer, Payload: AnswerPayload{From: from, Answer: payload}}
		case domain.SignalCandidate:
			return Event{Name: EventICECandidate, Payload: CandidatePayload{From: from, Candidate: payload}}
		}
	}
	return Event{Name: EventSignal, Payload: SignalPayload{From: from, Signal: payload}}
}
