// Package msgstore holds the per-conversation message caches and is the
// single place inbound messages are reconciled, whatever their origin
// (poll snapshot, push event, optimistic send, send confirmation). All
// writers go through Merge so the cache invariants hold no matter in what
// order the sources arrive.
package msgstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/chat"
	"github.com/mvalente/tablechat/internal/metrics"
	"go.uber.org/zap"
)

// MessageLister fetches the ordered message history of one conversation.
// Implemented by api.Client; tests substitute a fake.
type MessageLister interface {
	ListMessages(ctx context.Context, conversationID int64) ([]chat.Message, error)
}

// ErrNoBackend is returned by Fetch when the store was built without a
// MessageLister.
var ErrNoBackend = errors.New("no message backend configured")

// Outcome describes what a Merge call did.
type Outcome string

const (
	// OutcomeInserted means the message was new and inserted in order.
	OutcomeInserted Outcome = "inserted"
	// OutcomeReplaced means an optimistic placeholder was confirmed in place.
	OutcomeReplaced Outcome = "replaced"
	// OutcomeDuplicate means the message was already present; no change.
	OutcomeDuplicate Outcome = "duplicate"
)

// FetchOptions control Fetch behavior.
type FetchOptions struct {
	// Force bypasses the cache-first check and refetches even when a
	// non-empty cache exists.
	Force bool
	// Background suppresses the loading flag so an already-rendered
	// conversation does not flicker back to a spinner.
	Background bool
}

// Store owns the message arrays, keyed by conversation id. Within a
// conversation messages are kept sorted ascending by CreatedAt.
type Store struct {
	mu       sync.Mutex
	msgs     map[int64][]chat.Message
	errs     map[int64]string
	sendErrs map[int64]string
	loading  map[int64]bool

	lister MessageLister
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an empty store.
func New(lister MessageLister, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		msgs:     make(map[int64][]chat.Message),
		errs:     make(map[int64]string),
		sendErrs: make(map[int64]string),
		loading:  make(map[int64]bool),
		lister:   lister,
		bus:      b,
		logger:   logger,
	}
}

// Fetch loads a conversation's history from the backend. With Force false
// and a non-empty cache it is a no-op. On success the cached array is
// replaced wholesale with the server's ordered snapshot and any recorded
// error is cleared. On failure the cache is set to an empty list and the
// error recorded for that conversation only.
func (s *Store) Fetch(ctx context.Context, conversationID int64, opts FetchOptions) error {
	if s.lister == nil {
		return ErrNoBackend
	}
	s.mu.Lock()
	if !opts.Force && len(s.msgs[conversationID]) > 0 {
		s.mu.Unlock()
		return nil
	}
	if !opts.Background {
		s.loading[conversationID] = true
	}
	s.mu.Unlock()

	msgs, err := s.lister.ListMessages(ctx, conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loading, conversationID)

	if err != nil {
		s.msgs[conversationID] = []chat.Message{}
		s.errs[conversationID] = err.Error()
		metrics.PollsTotal.WithLabelValues("messages", "error").Inc()
		s.logger.Warn("message fetch failed",
			zap.Int64("conversation_id", conversationID), zap.Error(err))
		s.publish(bus.KindMessageSnapshot, conversationID)
		return err
	}

	sortByCreatedAt(msgs)
	s.msgs[conversationID] = msgs
	delete(s.errs, conversationID)
	metrics.PollsTotal.WithLabelValues("messages", "ok").Inc()
	s.publish(bus.KindMessageSnapshot, conversationID)
	return nil
}

// Merge reconciles one inbound message into its conversation's cache:
//
//  1. A message whose durable id is already present is dropped (idempotent).
//  2. A canonical message that matches an unconfirmed optimistic message
//     from the same sender with the same body replaces it in place,
//     preserving its position.
//  3. Otherwise the message is inserted and the array re-sorted by CreatedAt.
//
// Optimistic messages skip step 2 so rapid duplicate sends of identical
// text coexist under distinct temp ids; re-merging the same temp id is
// still a no-op.
func (s *Store) Merge(msg chat.Message) Outcome {
	s.mu.Lock()
	arr := s.msgs[msg.ConversationID]

	if msg.Optimistic {
		for _, m := range arr {
			if m.Optimistic && m.TempID == msg.TempID {
				s.mu.Unlock()
				metrics.MergesTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
				return OutcomeDuplicate
			}
		}
	} else {
		for _, m := range arr {
			if !m.Optimistic && m.ID == msg.ID {
				s.mu.Unlock()
				metrics.MergesTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
				return OutcomeDuplicate
			}
		}
		for i, m := range arr {
			if m.Optimistic && m.SenderID == msg.SenderID && m.Body == msg.Body {
				arr[i] = msg
				s.msgs[msg.ConversationID] = arr
				s.mu.Unlock()
				metrics.MergesTotal.WithLabelValues(string(OutcomeReplaced)).Inc()
				s.publish(bus.KindMessageMerged, msg)
				return OutcomeReplaced
			}
		}
	}

	arr = append(arr, msg)
	sortByCreatedAt(arr)
	s.msgs[msg.ConversationID] = arr
	s.mu.Unlock()
	metrics.MergesTotal.WithLabelValues(string(OutcomeInserted)).Inc()
	s.publish(bus.KindMessageMerged, msg)
	return OutcomeInserted
}

// RemoveOptimistic deletes the optimistic message with the given temp id,
// leaving every other message untouched. Removal is by temp id rather than
// content so a simultaneous send of the same text is unaffected. Reports
// whether a message was removed.
func (s *Store) RemoveOptimistic(conversationID int64, tempID string) bool {
	s.mu.Lock()
	arr := s.msgs[conversationID]
	for i, m := range arr {
		if m.Optimistic && m.TempID == tempID {
			s.msgs[conversationID] = append(arr[:i], arr[i+1:]...)
			s.mu.Unlock()
			s.publish(bus.KindMessageSnapshot, conversationID)
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// Messages returns a copy of a conversation's ordered messages.
func (s *Store) Messages(conversationID int64) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := s.msgs[conversationID]
	out := make([]chat.Message, len(arr))
	copy(out, arr)
	return out
}

// Cached reports whether the conversation has a non-empty cache.
func (s *Store) Cached(conversationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs[conversationID]) > 0
}

// Loading reports whether a foreground fetch is in flight.
func (s *Store) Loading(conversationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[conversationID]
}

// Error returns the recorded fetch error for a conversation, if any.
func (s *Store) Error(conversationID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[conversationID]
}

// SetSendError records a per-conversation send failure message.
func (s *Store) SetSendError(conversationID int64, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErrs[conversationID] = msg
}

// ClearSendError clears the send failure message.
func (s *Store) ClearSendError(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sendErrs, conversationID)
}

// SendError returns the recorded send failure message, if any.
func (s *Store) SendError(conversationID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendErrs[conversationID]
}

// Drop removes everything cached for a conversation. Used when the
// conversation is deleted.
func (s *Store) Drop(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, conversationID)
	delete(s.errs, conversationID)
	delete(s.sendErrs, conversationID)
	delete(s.loading, conversationID)
}

// Seed installs a warm-start snapshot for a conversation. It does nothing
// when a cache already exists, so live data always wins over the offline
// cache.
func (s *Store) Seed(conversationID int64, msgs []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs[conversationID]) > 0 {
		return
	}
	sortByCreatedAt(msgs)
	s.msgs[conversationID] = msgs
}

func (s *Store) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: kind, Payload: payload})
	}
}

func sortByCreatedAt(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
