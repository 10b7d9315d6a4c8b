package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room is full")
	ErrDuplicateRoomID     = errors.New("room id already exists")
	ErrParticipantNotFound = errors.New("participant not in the room")
	ErrUnknownParticipant  = errors.New("unknown participant")
	ErrAuthProvider        = errors.New("auth provider error")
	ErrMalformedEvent      = errors.New("malformed event")
	ErrMessageTooLong      = errors.New("message too long")
	ErrRateLimited         = errors.New("rate limit exceeded")
)
