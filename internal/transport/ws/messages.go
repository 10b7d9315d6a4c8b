package ws

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
)

// Входящие события
const (
	TypeCreateRoom   = "create-room"
	TypeJoinRoom     = "join-room"
	TypeLeaveRoom    = "leave-room"
	TypeSendMessage  = "send-message"
	TypeToggleAudio  = "toggle-audio"
	TypeToggleVideo  = "toggle-video"
	TypeSignal       = "signal"
	TypeGetRooms     = "get-rooms"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// Message: конверт и для входящих, и для исходящих кадров.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type CreateRoomPayload struct {
	ID              string   `json:"id,omitempty"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Category        string   `json:"category,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	MaxParticipants int      `json:"maxParticipants,omitempty"`
	IsPrivate       bool     `json:"isPrivate,omitempty"`
}

func (p CreateRoomPayload) spec() domain.RoomSpec {
	return domain.RoomSpec{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Category:        p.Category,
		Languages:       p.Languages,
		MaxParticipants: p.MaxParticipants,
		IsPrivate:       p.IsPrivate,
	}
}

type UserPayload struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Avatar         string `json:"avatar,omitempty"`
	IsMuted        bool   `json:"isMuted,omitempty"`
	IsVideoEnabled bool   `json:"isVideoEnabled,omitempty"`
}

type JoinRoomPayload struct {
	RoomID string      `json:"roomId"`
	User   UserPayload `json:"user"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

type ChatMessagePayload struct {
	ID         string          `json:"id,omitempty"`
	SenderID   string          `json:"senderId,omitempty"`
	SenderName string          `json:"senderName,omitempty"`
	Content    string          `json:"content"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
}

type SendMessagePayload struct {
	RoomID  string             `json:"roomId"`
	Message ChatMessagePayload `json:"message"`
}

type ToggleAudioPayload struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId,omitempty"`
	IsMuted *bool  `json:"isMuted"`
}

type ToggleVideoPayload struct {
	RoomID         string `json:"roomId"`
	UserID         string `json:"userId,omitempty"`
	IsVideoEnabled *bool  `json:"isVideoEnabled"`
}

// SignalInPayload: signal и его split-варианты (offer/answer/candidate вместо signal).
type SignalInPayload struct {
	RoomID    string          `json:"roomId"`
	To        string          `json:"to"`
	From      string          `json:"from,omitempty"`
	Signal    json.RawMessage `json:"signal,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// body возвращает пейлоад сигнала для данного типа события.
func (p SignalInPayload) body(eventType string) json.RawMessage {
	switch eventType {
	case TypeOffer:
		if len(p.Offer) > 0 {
			return p.Offer
		}
	case TypeAnswer:
		if len(p.Answer) > 0 {
			return p.Answer
		}
	case TypeICECandidate:
		if len(p.Candidate) > 0 {
			return p.Candidate
		}
	}
	return p.Signal
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: payload is required", domain.ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	return nil
}

// parseTimestamp принимает миллисекунды эпохи (Date.now()) или строку RFC 3339.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, err
		}
		if str == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, str)
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
