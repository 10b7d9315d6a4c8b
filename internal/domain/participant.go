package domain

import "time"

type Participant struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"name"`
	AvatarRef       string    `json:"avatar,omitempty"`
	ConnectionRef   string    `json:"connectionId"`
	IsMuted         bool      `json:"isMuted"`
	IsVideoEnabled  bool      `json:"isVideoEnabled"`
	IsHost          bool      `json:"isHost"`
	IsAuthenticated bool      `json:"isAuthenticated"`
	JoinedAt        time.Time `json:"joinedAt"`
}

type ParticipantSpec struct {
	ID              string
	DisplayName     string
	AvatarRef       string
	IsMuted         bool
	IsVideoEnabled  bool
	IsAuthenticated bool
}
