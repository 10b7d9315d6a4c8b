package domain

import "time"

// MessageLogLimit: сколько последних сообщений хранит комната.
const MessageLogLimit = 100

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// MessageSpec: то, что присылает клиент; пустые поля заполняет сервер.
type MessageSpec struct {
	ID         string
	SenderID   string
	SenderName string
	Content    string
	Timestamp  time.Time
}
