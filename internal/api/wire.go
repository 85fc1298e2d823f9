package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mvalente/tablechat/internal/chat"
)

type wireParticipant struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Online bool   `json:"online"`
	Typing bool   `json:"typing"`
}

type wireLastMessage struct {
	ID       int64     `json:"id"`
	Body     string    `json:"body"`
	SenderID int64     `json:"senderId"`
	At       time.Time `json:"at"`
}

type wireConversation struct {
	ID               int64           `json:"id"`
	OtherParticipant wireParticipant `json:"otherParticipant"`
	LastMessage      wireLastMessage `json:"lastMessage"`
	UnreadCount      int             `json:"unreadCount"`
}

func (w wireConversation) toDomain() chat.Conversation {
	return chat.Conversation{
		ID: w.ID,
		Other: chat.Participant{
			ID:     w.OtherParticipant.ID,
			Name:   w.OtherParticipant.Name,
			Avatar: w.OtherParticipant.Avatar,
			Online: w.OtherParticipant.Online,
			Typing: w.OtherParticipant.Typing,
		},
		LastMessage: chat.LastMessage{
			ID:       w.LastMessage.ID,
			Body:     w.LastMessage.Body,
			SenderID: w.LastMessage.SenderID,
			At:       w.LastMessage.At,
		},
		UnreadCount: w.UnreadCount,
	}
}

// WireMessage is the backend's JSON message shape. The four read-receipt
// timestamps are genuinely this inconsistent upstream; chat.Message.SeenTime
// documents the fallback order.
type WireMessage struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversationId"`
	SenderID       int64      `json:"senderId"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	SeenAt         *time.Time `json:"seenAt,omitempty"`
	ReadTimestamp  *time.Time `json:"readTimestamp,omitempty"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
	Read           bool       `json:"read,omitempty"`
}

// ToDomain converts the wire form to the domain message.
func (w WireMessage) ToDomain() chat.Message {
	return chat.Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Body:           w.Body,
		CreatedAt:      w.CreatedAt,
		ReadAt:         w.ReadAt,
		SeenAt:         w.SeenAt,
		ReadTimestamp:  w.ReadTimestamp,
		UpdatedAt:      w.UpdatedAt,
		Read:           w.Read,
	}
}

// PushPayload is the JSON shape delivered on the push channel, identical
// regardless of transport (NATS subject, WebSocket frame, or test harness).
type PushPayload struct {
	ConversationID int64       `json:"conversationId"`
	Message        WireMessage `json:"message"`
}

// DecodePushPayload parses a raw push frame.
func DecodePushPayload(data []byte) (PushPayload, error) {
	var p PushPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return PushPayload{}, fmt.Errorf("decode push payload: %w", err)
	}
	if p.ConversationID == 0 {
		return PushPayload{}, fmt.Errorf("push payload missing conversationId")
	}
	return p, nil
}
