package bus

import "time"

// Event kinds published by the sync engine. Subscribers filter by prefix,
// so "directory." matches every directory event and so on.
const (
	KindDirectoryUpdated  = "directory.updated"   // payload: []chat.Conversation
	KindDirectoryIncoming = "directory.incoming"  // payload: Incoming
	KindDirectoryError    = "directory.error"     // payload: string (error kind)
	KindDirectoryDeleted  = "directory.deleted"   // payload: int64 (conversation id)
	KindMessageMerged     = "message.merged"      // payload: chat.Message
	KindMessageSnapshot   = "message.snapshot"    // payload: int64 (conversation id)
	KindMessageSendAck    = "message.send_ack"    // payload: chat.Message (confirmed)
	KindMessageSendFailed = "message.send_failed" // payload: SendFailure
	KindPushIncoming      = "push.incoming"       // payload: Incoming
	KindHeadOpened        = "head.opened"         // payload: int64 (conversation id)
	KindHeadClosed        = "head.closed"         // payload: int64 (conversation id)
	KindStatusChanged     = "session.status_changed"
)

// Event is a domain event delivered through the in-process bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Incoming describes a new message in a conversation that is not currently
// visible, used to spawn or reveal a chat head and flash a notification.
type Incoming struct {
	ConversationID int64
	MessageID      int64
	DisplayName    string
	Preview        string
}

// SendFailure reports a failed optimistic send.
type SendFailure struct {
	ConversationID int64
	TempID         string
	Err            string
}
