// Package poll drives the periodic refreshes: one conversation-list timer
// whose cadence depends on whether any chat UI is visible, and one message
// timer per open, non-minimized conversation. Timers are plain tickers
// cancelled through contexts; a timer outliving its owning condition would
// keep mutating the shared caches, so lifecycle here is strict.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/mvalente/tablechat/internal/directory"
	"github.com/mvalente/tablechat/internal/msgstore"
	"go.uber.org/zap"
)

// Intervals are the three poll cadences.
type Intervals struct {
	// ListActive is the conversation-list cadence while any chat UI is open.
	ListActive time.Duration
	// ListIdle is the conversation-list cadence otherwise.
	ListIdle time.Duration
	// Conversation is the fixed cadence for each open conversation's
	// message refresh.
	Conversation time.Duration
}

// DefaultIntervals returns the stock cadences.
func DefaultIntervals() Intervals {
	return Intervals{
		ListActive:   10 * time.Second,
		ListIdle:     60 * time.Second,
		Conversation: 5 * time.Second,
	}
}

// Scheduler owns every poll timer in the process.
type Scheduler struct {
	mu         sync.Mutex
	root       context.Context
	rootCancel context.CancelFunc
	listCancel context.CancelFunc
	watchers   map[int64]context.CancelFunc
	visible    bool
	started    bool

	iv      Intervals
	enabled bool
	dir     *directory.Directory
	store   *msgstore.Store
	logger  *zap.Logger
}

// New creates a scheduler. Nothing runs until Start.
func New(iv Intervals, enabled bool, dir *directory.Directory, store *msgstore.Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		watchers: make(map[int64]context.CancelFunc),
		iv:       iv,
		enabled:  enabled,
		dir:      dir,
		store:    store,
		logger:   logger,
	}
}

// Start begins the conversation-list poll at the idle cadence, issuing an
// immediate first refresh. A disabled scheduler starts nothing.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.root, s.rootCancel = context.WithCancel(ctx)
	go func(ctx context.Context) {
		_ = s.dir.Refresh(ctx)
	}(s.root)
	s.startListLocked()
}

// Stop cancels the list timer and every conversation timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	if s.rootCancel != nil {
		s.rootCancel()
	}
	s.listCancel = nil
	s.watchers = make(map[int64]context.CancelFunc)
}

// SetChatVisible switches the list cadence. The running timer is cancelled
// and replaced so exactly one is ever live.
func (s *Scheduler) SetChatVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible == visible {
		return
	}
	s.visible = visible
	if !s.started {
		return
	}
	s.startListLocked()
}

// Watch starts the dedicated message timer for a conversation. Watching an
// already-watched conversation is a no-op.
func (s *Scheduler) Watch(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if _, ok := s.watchers[conversationID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.root)
	s.watchers[conversationID] = cancel
	go s.conversationLoop(ctx, conversationID)
}

// Unwatch cancels a conversation's message timer.
func (s *Scheduler) Unwatch(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.watchers[conversationID]; ok {
		cancel()
		delete(s.watchers, conversationID)
	}
}

// Watching reports whether a conversation has a live message timer.
func (s *Scheduler) Watching(conversationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watchers[conversationID]
	return ok
}

func (s *Scheduler) startListLocked() {
	if s.listCancel != nil {
		s.listCancel()
	}
	interval := s.iv.ListIdle
	if s.visible {
		interval = s.iv.ListActive
	}
	ctx, cancel := context.WithCancel(s.root)
	s.listCancel = cancel
	go s.listLoop(ctx, interval)
}

func (s *Scheduler) listLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Errors set the directory's banner state; the next tick is
			// the retry.
			_ = s.dir.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) conversationLoop(ctx context.Context, conversationID int64) {
	ticker := time.NewTicker(s.iv.Conversation)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.store.Fetch(ctx, conversationID, msgstore.FetchOptions{Force: true, Background: true})
		case <-ctx.Done():
			return
		}
	}
}
