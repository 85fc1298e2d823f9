package cache

import (
	"context"

	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/chat"
	"go.uber.org/zap"
)

// MessageSource exposes the in-memory history a snapshot event refers to,
// and whether the last fetch for that conversation failed.
type MessageSource interface {
	Messages(conversationID int64) []chat.Message
	Error(conversationID int64) string
}

// Writer subscribes to the bus and mirrors directory and message state
// into the cache database. Persistence failures are logged, never fatal.
type Writer struct {
	db     *DB
	source MessageSource
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a cache writer fed by bus events.
func NewWriter(db *DB, source MessageSource, b *bus.Bus, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: db, source: source, bus: b, logger: logger}
}

// Start begins consuming events until the context is cancelled or Stop
// is called.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ch, cancelSub := w.bus.Subscribe("", 64)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		defer cancelSub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				w.handle(evt)
			}
		}
	}()
}

// Stop cancels the consumer loop and waits for it to drain.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Writer) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindDirectoryUpdated:
		convs, ok := evt.Payload.([]chat.Conversation)
		if !ok {
			return
		}
		if err := w.db.ReplaceConversations(convs); err != nil {
			w.logger.Warn("cache conversations write failed", zap.Error(err))
		}
	case bus.KindDirectoryDeleted:
		id, ok := evt.Payload.(int64)
		if !ok {
			return
		}
		if err := w.db.DeleteConversation(id); err != nil {
			w.logger.Warn("cache conversation delete failed",
				zap.Int64("conversation_id", id), zap.Error(err))
		}
	case bus.KindMessageMerged:
		msg, ok := evt.Payload.(chat.Message)
		if !ok || msg.Optimistic {
			return
		}
		if err := w.db.UpsertMessage(msg); err != nil {
			w.logger.Warn("cache message write failed",
				zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
		}
	case bus.KindMessageSnapshot:
		id, ok := evt.Payload.(int64)
		if !ok || w.source == nil {
			return
		}
		// A failed fetch empties the in-memory array. Keep the persisted
		// history so a warm start still has something to show.
		if w.source.Error(id) != "" {
			return
		}
		if err := w.db.ReplaceMessages(id, w.source.Messages(id)); err != nil {
			w.logger.Warn("cache snapshot write failed",
				zap.Int64("conversation_id", id), zap.Error(err))
		}
	}
}
