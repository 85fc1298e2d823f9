// Package chat defines the domain types shared by the sync engine:
// conversations, messages and drafts. The message store and conversation
// directory own the authoritative collections of these types; everything
// else passes copies around.
package chat

import "time"

// Participant is the other side of a two-party conversation.
type Participant struct {
	ID     int64
	Name   string
	Avatar string
	Online bool
	Typing bool
}

// LastMessage is the aggregate preview of a conversation's newest message.
type LastMessage struct {
	ID       int64
	Body     string
	SenderID int64
	At       time.Time
}

// Conversation is one row of the conversation directory.
type Conversation struct {
	ID          int64
	Other       Participant
	LastMessage LastMessage
	UnreadCount int
}

// Message is a single chat message. A message carries either a durable
// server-assigned ID, or (while a send is in flight) a client-generated
// TempID with Optimistic set.
type Message struct {
	ID             int64
	TempID         string
	ConversationID int64
	SenderID       int64
	Body           string
	CreatedAt      time.Time
	ReadAt         *time.Time
	SeenAt         *time.Time
	ReadTimestamp  *time.Time
	UpdatedAt      *time.Time
	Read           bool
	Optimistic     bool
}

// SeenTime reports when the message was seen by the recipient, if ever.
// The backend exposes several inconsistently-named read-receipt fields;
// the documented fallback chain is readAt, then seenAt, then readTimestamp,
// then updatedAt when the read flag is set. The server side should unify
// these eventually; until then this is the single place that interprets them.
func (m *Message) SeenTime() (time.Time, bool) {
	switch {
	case m.ReadAt != nil:
		return *m.ReadAt, true
	case m.SeenAt != nil:
		return *m.SeenAt, true
	case m.ReadTimestamp != nil:
		return *m.ReadTimestamp, true
	case m.Read && m.UpdatedAt != nil:
		return *m.UpdatedAt, true
	}
	return time.Time{}, false
}

// Preview returns the message body truncated for list rows and chat head
// bubbles.
func (m *Message) Preview(maxLen int) string {
	if len(m.Body) <= maxLen {
		return m.Body
	}
	return m.Body[:maxLen]
}

// Draft is the per-conversation composing text owned by the composer.
type Draft struct {
	ConversationID int64
	Body           string
}
