// Package composer owns per-conversation draft text and performs optimistic
// sends: the message appears in the cache under a temporary id before the
// network call, is confirmed in place on ack, and is rolled back by temp id
// on failure.
package composer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/chat"
	"github.com/mvalente/tablechat/internal/metrics"
	"github.com/mvalente/tablechat/internal/msgstore"
	"go.uber.org/zap"
)

// ErrEmptyBody is returned when a send is attempted with nothing but
// whitespace. No network call is made.
var ErrEmptyBody = errors.New("message body is empty")

// MessageSender posts a message and returns the confirmed server record.
// Implemented by api.Client.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID int64, body string) (chat.Message, error)
}

// Composer manages drafts and outbound sends for all conversations.
type Composer struct {
	mu     sync.Mutex
	drafts map[int64]string

	self    int64
	enabled bool
	store   *msgstore.Store
	sender  MessageSender
	bus     *bus.Bus
	logger  *zap.Logger
}

// New creates a composer sending as the given user id.
func New(self int64, enabled bool, store *msgstore.Store, sender MessageSender, b *bus.Bus, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		drafts:  make(map[int64]string),
		self:    self,
		enabled: enabled,
		store:   store,
		sender:  sender,
		bus:     b,
		logger:  logger,
	}
}

// SetDraft stores the composing text for a conversation.
func (c *Composer) SetDraft(conversationID int64, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts[conversationID] = body
}

// Draft returns the composing text for a conversation.
func (c *Composer) Draft(conversationID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drafts[conversationID]
}

// Send validates the body, inserts an optimistic message, clears the draft
// and issues the network request. On ack the server record replaces the
// placeholder through the store's merge; on failure the placeholder is
// removed by its temp id and a per-conversation send error recorded. There
// is no automatic retry. Callers wanting fire-and-forget run Send in a
// goroutine; the optimistic insert happens before the network round trip
// either way.
func (c *Composer) Send(ctx context.Context, conversationID int64, body string) error {
	if !c.enabled {
		return nil
	}
	body = strings.TrimSpace(body)
	if body == "" {
		metrics.SendsTotal.WithLabelValues("rejected").Inc()
		return ErrEmptyBody
	}

	tempID := uuid.New().String()
	optimistic := chat.Message{
		TempID:         tempID,
		ConversationID: conversationID,
		SenderID:       c.self,
		Body:           body,
		CreatedAt:      time.Now(),
		Optimistic:     true,
	}
	c.store.Merge(optimistic)
	c.store.ClearSendError(conversationID)

	c.mu.Lock()
	delete(c.drafts, conversationID)
	c.mu.Unlock()

	confirmed, err := c.sender.SendMessage(ctx, conversationID, body)
	if err != nil {
		c.store.RemoveOptimistic(conversationID, tempID)
		c.store.SetSendError(conversationID, err.Error())
		metrics.SendsTotal.WithLabelValues("failed").Inc()
		c.logger.Warn("send failed",
			zap.Int64("conversation_id", conversationID),
			zap.String("temp_id", tempID), zap.Error(err))
		c.bus.Publish(bus.Event{
			Kind: bus.KindMessageSendFailed,
			Payload: bus.SendFailure{
				ConversationID: conversationID,
				TempID:         tempID,
				Err:            err.Error(),
			},
		})
		return err
	}

	// A late ack reconciles against whatever cache state exists; the merge
	// rules make this safe even if a poll already delivered the message.
	c.store.Merge(confirmed)
	metrics.SendsTotal.WithLabelValues("ok").Inc()
	c.bus.Publish(bus.Event{Kind: bus.KindMessageSendAck, Payload: confirmed})
	return nil
}

// SendDraft sends the current draft of a conversation.
func (c *Composer) SendDraft(ctx context.Context, conversationID int64) error {
	return c.Send(ctx, conversationID, c.Draft(conversationID))
}
