// Package directory owns the conversation list and its metadata: unread
// counts, last-message previews, the active selection, and the map of
// already-notified message ids that keeps polls and push events from
// popping the same chat head twice.
package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/mvalente/tablechat/internal/api"
	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/chat"
	"github.com/mvalente/tablechat/internal/metrics"
	"github.com/mvalente/tablechat/internal/msgstore"
	"go.uber.org/zap"
)

// Error kinds for the list-level error banner. Auth failures are surfaced
// differently from plain network trouble.
const (
	ErrKindAuth    = "auth"
	ErrKindNetwork = "network"
)

// Backend is the slice of the REST surface the directory needs.
// Implemented by api.Client; tests substitute a fake.
type Backend interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	CreateConversation(ctx context.Context, participants []int64) (chat.Conversation, error)
	MarkRead(ctx context.Context, conversationID int64) error
	DeleteConversation(ctx context.Context, conversationID int64) error
}

// Directory is the single source of truth for conversation metadata.
type Directory struct {
	mu       sync.Mutex
	convs    []chat.Conversation
	errKind  string
	errMsg   string
	active   int64
	notified map[int64]int64 // conversation id -> last notified message id

	self    int64
	enabled bool
	backend Backend
	store   *msgstore.Store
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// New creates an empty directory for the given user.
func New(self int64, enabled bool, backend Backend, store *msgstore.Store, b *bus.Bus, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		notified: make(map[int64]int64),
		self:     self,
		enabled:  enabled,
		backend:  backend,
		store:    store,
		bus:      b,
		logger:   logger,
	}
}

// Start subscribes to send acks so a confirmed local send updates the
// owning conversation's last-message fields without the composer having to
// know about the directory.
func (d *Directory) Start(ctx context.Context) {
	if !d.enabled {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	ch, cancel := d.bus.Subscribe(bus.KindMessageSendAck, 64)

	go func() {
		defer cancel()
		for {
			select {
			case evt := <-ch:
				if msg, ok := evt.Payload.(chat.Message); ok {
					d.ApplyMessage(msg, false)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the ack subscription.
func (d *Directory) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// Refresh fetches the full conversation list and diffs it against the
// previous snapshot. A conversation whose unread count grew or whose last
// message changed, where the sender is not the current user and the message
// has not been notified before, produces an incoming-update event (spawning
// or revealing its chat head) and is recorded as notified. The first
// snapshot after a cold start is taken as a baseline and produces no
// events. On failure the list is cleared and an error state recorded; the
// next scheduled poll is the retry.
func (d *Directory) Refresh(ctx context.Context) error {
	if !d.enabled {
		return nil
	}
	list, err := d.backend.ListConversations(ctx)
	if err != nil {
		kind := ErrKindNetwork
		if errors.Is(err, api.ErrAuthRequired) {
			kind = ErrKindAuth
		}
		d.mu.Lock()
		d.convs = nil
		d.errKind = kind
		d.errMsg = err.Error()
		d.mu.Unlock()
		metrics.PollsTotal.WithLabelValues("list", "error").Inc()
		d.logger.Warn("conversation list refresh failed", zap.String("kind", kind), zap.Error(err))
		d.bus.Publish(bus.Event{Kind: bus.KindDirectoryError, Payload: kind})
		return err
	}

	var incoming []bus.Incoming
	d.mu.Lock()
	prev := make(map[int64]chat.Conversation, len(d.convs))
	for _, c := range d.convs {
		prev[c.ID] = c
	}
	baseline := len(prev) == 0

	for _, c := range list {
		if baseline {
			continue
		}
		p, had := prev[c.ID]
		changed := !had || c.UnreadCount > p.UnreadCount || c.LastMessage.ID != p.LastMessage.ID
		if !changed || c.LastMessage.SenderID == d.self {
			continue
		}
		if d.notified[c.ID] == c.LastMessage.ID {
			continue
		}
		d.notified[c.ID] = c.LastMessage.ID
		incoming = append(incoming, bus.Incoming{
			ConversationID: c.ID,
			MessageID:      c.LastMessage.ID,
			DisplayName:    c.Other.Name,
			Preview:        c.LastMessage.Body,
		})
	}

	d.convs = list
	d.errKind = ""
	d.errMsg = ""
	if d.active == 0 && len(list) > 0 {
		d.active = list[0].ID
	}
	snapshot := d.snapshotLocked()
	d.mu.Unlock()

	metrics.PollsTotal.WithLabelValues("list", "ok").Inc()
	for _, in := range incoming {
		d.bus.Publish(bus.Event{Kind: bus.KindDirectoryIncoming, Payload: in})
	}
	d.bus.Publish(bus.Event{Kind: bus.KindDirectoryUpdated, Payload: snapshot})
	return nil
}

// MarkRead optimistically zeroes the local unread count and dispatches a
// best-effort request. Network failure is logged and otherwise ignored;
// read state is not rolled back.
func (d *Directory) MarkRead(ctx context.Context, conversationID int64) {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	for i := range d.convs {
		if d.convs[i].ID == conversationID {
			d.convs[i].UnreadCount = 0
			break
		}
	}
	snapshot := d.snapshotLocked()
	d.mu.Unlock()
	d.bus.Publish(bus.Event{Kind: bus.KindDirectoryUpdated, Payload: snapshot})

	go func() {
		if err := d.backend.MarkRead(ctx, conversationID); err != nil {
			d.logger.Warn("mark read failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		}
	}()
}

// Delete removes a conversation server-side, then locally, along with its
// message cache. On failure nothing changes here; the caller clears its
// deleting state and the failure stays at log level.
func (d *Directory) Delete(ctx context.Context, conversationID int64) error {
	if !d.enabled {
		return nil
	}
	if err := d.backend.DeleteConversation(ctx, conversationID); err != nil {
		d.logger.Warn("delete conversation failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return err
	}

	d.mu.Lock()
	for i := range d.convs {
		if d.convs[i].ID == conversationID {
			d.convs = append(d.convs[:i], d.convs[i+1:]...)
			break
		}
	}
	delete(d.notified, conversationID)
	if d.active == conversationID {
		d.active = 0
		if len(d.convs) > 0 {
			d.active = d.convs[0].ID
		}
	}
	snapshot := d.snapshotLocked()
	d.mu.Unlock()

	d.store.Drop(conversationID)
	d.bus.Publish(bus.Event{Kind: bus.KindDirectoryDeleted, Payload: conversationID})
	d.bus.Publish(bus.Event{Kind: bus.KindDirectoryUpdated, Payload: snapshot})
	return nil
}

// Create starts a conversation with the given participants and adds it to
// the front of the list.
func (d *Directory) Create(ctx context.Context, participants []int64) (chat.Conversation, error) {
	if !d.enabled {
		return chat.Conversation{}, nil
	}
	conv, err := d.backend.CreateConversation(ctx, participants)
	if err != nil {
		return chat.Conversation{}, err
	}
	d.mu.Lock()
	d.convs = append([]chat.Conversation{conv}, d.convs...)
	snapshot := d.snapshotLocked()
	d.mu.Unlock()
	d.bus.Publish(bus.Event{Kind: bus.KindDirectoryUpdated, Payload: snapshot})
	return conv, nil
}

// ApplyMessage updates a conversation's last-message fields from a merged
// message, optionally incrementing the unread count. A message for a
// conversation the directory has not seen yet is left to the next poll.
func (d *Directory) ApplyMessage(msg chat.Message, incrementUnread bool) {
	d.mu.Lock()
	found := false
	for i := range d.convs {
		if d.convs[i].ID != msg.ConversationID {
			continue
		}
		d.convs[i].LastMessage = chat.LastMessage{
			ID:       msg.ID,
			Body:     msg.Body,
			SenderID: msg.SenderID,
			At:       msg.CreatedAt,
		}
		if incrementUnread {
			d.convs[i].UnreadCount++
		}
		found = true
		break
	}
	snapshot := d.snapshotLocked()
	d.mu.Unlock()

	if !found {
		d.logger.Debug("message for unknown conversation, awaiting next poll",
			zap.Int64("conversation_id", msg.ConversationID))
		return
	}
	d.bus.Publish(bus.Event{Kind: bus.KindDirectoryUpdated, Payload: snapshot})
}

// AlreadyNotified reports whether the given message id is the last one
// notified for the conversation. Shared with the push ingestor so a push
// event and the next poll covering the same message notify once.
func (d *Directory) AlreadyNotified(conversationID, messageID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notified[conversationID] == messageID
}

// MarkNotified records a message id as notified.
func (d *Directory) MarkNotified(conversationID, messageID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notified[conversationID] = messageID
}

// Conversations returns a copy of the current list.
func (d *Directory) Conversations() []chat.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Get returns one conversation by id.
func (d *Directory) Get(conversationID int64) (chat.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.convs {
		if c.ID == conversationID {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// Active returns the currently selected conversation id, zero when none.
func (d *Directory) Active() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// SetActive selects a conversation.
func (d *Directory) SetActive(conversationID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = conversationID
}

// ErrorState returns the list-level error kind and message, both empty
// when the last refresh succeeded.
func (d *Directory) ErrorState() (kind, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errKind, d.errMsg
}

// Seed installs a warm-start snapshot without diffing or notifying, so the
// first live refresh diffs against the offline cache instead of an empty
// baseline.
func (d *Directory) Seed(convs []chat.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.convs) > 0 {
		return
	}
	d.convs = convs
	if d.active == 0 && len(convs) > 0 {
		d.active = convs[0].ID
	}
}

func (d *Directory) snapshotLocked() []chat.Conversation {
	out := make([]chat.Conversation, len(d.convs))
	copy(out, d.convs)
	return out
}
