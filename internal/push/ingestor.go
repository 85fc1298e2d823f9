// Package push turns externally-delivered "message arrived" events into
// cache updates. The ingestor is transport-agnostic: the NATS and
// WebSocket adapters in this package, and test harnesses, all call the
// same Handle entry point.
package push

import (
	"context"

	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/chat"
	"github.com/mvalente/tablechat/internal/directory"
	"github.com/mvalente/tablechat/internal/metrics"
	"github.com/mvalente/tablechat/internal/msgstore"
	"go.uber.org/zap"
)

// Event is one push notification: a new message in a conversation.
type Event struct {
	ConversationID int64
	Message        chat.Message
}

// Visibility answers whether a conversation is currently on screen.
// Implemented by the chat head manager.
type Visibility interface {
	Visible(conversationID int64) bool
}

// Ingestor merges push events into the message store and conversation
// directory, reusing the directory's notified map so a push event and the
// next poll covering the same message never double-notify.
type Ingestor struct {
	self    int64
	enabled bool
	store   *msgstore.Store
	dir     *directory.Directory
	vis     Visibility
	bus     *bus.Bus
	logger  *zap.Logger
}

// New creates an ingestor for the given user.
func New(self int64, enabled bool, store *msgstore.Store, dir *directory.Directory, vis Visibility, b *bus.Bus, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		self:    self,
		enabled: enabled,
		store:   store,
		dir:     dir,
		vis:     vis,
		bus:     b,
		logger:  logger,
	}
}

// Handle ingests one push event: merge the message, update conversation
// metadata (unread grows only for someone else's message in a conversation
// that is not on screen; a visible conversation is marked read instead),
// and surface an incoming signal when the user has not seen it.
func (i *Ingestor) Handle(ctx context.Context, evt Event) {
	if !i.enabled {
		return
	}
	metrics.PushEventsTotal.Inc()

	msg := evt.Message
	if msg.ConversationID == 0 {
		msg.ConversationID = evt.ConversationID
	}
	i.store.Merge(msg)

	own := msg.SenderID == i.self
	visible := i.vis != nil && i.vis.Visible(evt.ConversationID)

	switch {
	case own:
		i.dir.ApplyMessage(msg, false)
	case visible:
		i.dir.ApplyMessage(msg, false)
		i.dir.MarkRead(ctx, evt.ConversationID)
	default:
		i.dir.ApplyMessage(msg, true)
	}

	if own || visible {
		return
	}
	if i.dir.AlreadyNotified(evt.ConversationID, msg.ID) {
		return
	}
	i.dir.MarkNotified(evt.ConversationID, msg.ID)

	name := ""
	if conv, ok := i.dir.Get(evt.ConversationID); ok {
		name = conv.Other.Name
	}
	i.bus.Publish(bus.Event{
		Kind: bus.KindPushIncoming,
		Payload: bus.Incoming{
			ConversationID: evt.ConversationID,
			MessageID:      msg.ID,
			DisplayName:    name,
			Preview:        msg.Preview(100),
		},
	})
}
