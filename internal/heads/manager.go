// Package heads manages the lifecycle of floating chat windows. A head is
// presentation state only (open, minimized, deleting) keyed by conversation
// id; message data stays in the store and metadata in the directory. The
// manager is viewport-agnostic: whether heads render as stacked windows or
// a single overlay with a bubble rail is decided by the TUI layer on top
// of the same state.
package heads

import (
	"context"
	"sync"

	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/directory"
	"github.com/mvalente/tablechat/internal/metrics"
	"github.com/mvalente/tablechat/internal/msgstore"
	"go.uber.org/zap"
)

// State is a head's lifecycle state. A conversation with no head record is
// closed.
type State string

const (
	// StateOpen is a live head, expanded or minimized.
	StateOpen State = "OPEN"
	// StateDeleting is a head whose conversation deletion is in flight.
	// On failure it returns to StateOpen; on success the head is removed.
	StateDeleting State = "DELETING"
)

// Head is the presentation record for one conversation window.
type Head struct {
	ConversationID int64
	DisplayName    string
	Preview        string
	Minimized      bool
	MenuOpen       bool
	State          State
}

// Poller is the slice of the polling scheduler the manager drives.
type Poller interface {
	Watch(conversationID int64)
	Unwatch(conversationID int64)
	SetChatVisible(visible bool)
}

// Manager owns all chat head records, at most one per conversation.
type Manager struct {
	mu    sync.Mutex
	heads map[int64]*Head
	order []int64

	enabled bool
	dir     *directory.Directory
	store   *msgstore.Store
	poller  Poller
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// New creates a manager with no open heads.
func New(enabled bool, dir *directory.Directory, store *msgstore.Store, poller Poller, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		heads:   make(map[int64]*Head),
		enabled: enabled,
		dir:     dir,
		store:   store,
		poller:  poller,
		bus:     b,
		logger:  logger,
	}
}

// Start subscribes to directory and push events: an incoming update spawns
// or un-minimizes the head, a push for a background conversation spawns a
// minimized head without stealing focus, and a deletion closes the head.
func (m *Manager) Start(ctx context.Context) {
	if !m.enabled {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	ch, cancel := m.bus.Subscribe("", 128)

	go func() {
		defer cancel()
		for {
			select {
			case evt := <-ch:
				m.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event subscription.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindDirectoryIncoming:
		if in, ok := evt.Payload.(bus.Incoming); ok {
			m.reveal(ctx, in)
		}
	case bus.KindPushIncoming:
		if in, ok := evt.Payload.(bus.Incoming); ok {
			m.spawnMinimized(in)
		}
	case bus.KindDirectoryDeleted:
		if id, ok := evt.Payload.(int64); ok {
			m.Close(id)
		}
	}
}

// Open creates the head for a conversation, or un-minimizes the existing
// one; opening twice never duplicates. It marks the conversation read,
// fetches history if nothing is cached, and starts the message poll.
func (m *Manager) Open(ctx context.Context, conversationID int64) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	h, ok := m.heads[conversationID]
	if ok {
		h.Minimized = false
	} else {
		h = m.newHeadLocked(conversationID)
		h.Minimized = false
	}
	m.mu.Unlock()

	m.dir.SetActive(conversationID)
	m.dir.MarkRead(ctx, conversationID)
	if !m.store.Cached(conversationID) {
		go func() {
			_ = m.store.Fetch(ctx, conversationID, msgstore.FetchOptions{})
		}()
	}
	m.poller.Watch(conversationID)
	m.syncVisibility()
	m.bus.Publish(bus.Event{Kind: bus.KindHeadOpened, Payload: conversationID})
}

// ToggleMinimize collapses or expands a head. Minimizing stops the
// conversation's message poll; expanding restarts it and refreshes the
// history in the background in case it went stale.
func (m *Manager) ToggleMinimize(ctx context.Context, conversationID int64) {
	m.mu.Lock()
	h, ok := m.heads[conversationID]
	if !ok {
		m.mu.Unlock()
		return
	}
	h.Minimized = !h.Minimized
	minimized := h.Minimized
	m.mu.Unlock()

	if minimized {
		m.poller.Unwatch(conversationID)
	} else {
		m.poller.Watch(conversationID)
		go func() {
			_ = m.store.Fetch(ctx, conversationID, msgstore.FetchOptions{Force: true, Background: true})
		}()
	}
	m.syncVisibility()
}

// Close removes the head and stops its poll. The conversation and its
// message cache survive; reopening is cheap.
func (m *Manager) Close(conversationID int64) {
	m.mu.Lock()
	if _, ok := m.heads[conversationID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.heads, conversationID)
	for i, id := range m.order {
		if id == conversationID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	metrics.OpenHeads.Dec()
	m.poller.Unwatch(conversationID)
	m.syncVisibility()
	m.bus.Publish(bus.Event{Kind: bus.KindHeadClosed, Payload: conversationID})
}

// Delete transitions the head to deleting and requests conversation
// deletion. On success the directory removes everything (including this
// head, via the deleted event); on failure the head returns to open and
// the error stays at log level.
func (m *Manager) Delete(ctx context.Context, conversationID int64) {
	m.mu.Lock()
	h, ok := m.heads[conversationID]
	if !ok || h.State == StateDeleting {
		m.mu.Unlock()
		return
	}
	h.State = StateDeleting
	m.mu.Unlock()

	if err := m.dir.Delete(ctx, conversationID); err != nil {
		m.mu.Lock()
		if h, ok := m.heads[conversationID]; ok {
			h.State = StateOpen
		}
		m.mu.Unlock()
		return
	}
	// The directory.deleted event also lands here; Close is idempotent.
	m.Close(conversationID)
}

// ToggleMenu opens or closes a head's options menu, closing every other
// menu so at most one is showing.
func (m *Manager) ToggleMenu(conversationID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.heads {
		if id == conversationID {
			h.MenuOpen = !h.MenuOpen
		} else {
			h.MenuOpen = false
		}
	}
}

// Visible reports whether a conversation is on screen: head open and not
// minimized. The push ingestor uses this for unread accounting.
func (m *Manager) Visible(conversationID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.heads[conversationID]
	return ok && h.State == StateOpen && !h.Minimized
}

// Get returns a copy of one head's record.
func (m *Manager) Get(conversationID int64) (Head, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.heads[conversationID]
	if !ok {
		return Head{}, false
	}
	return *h, true
}

// Heads returns copies of all head records in creation order.
func (m *Manager) Heads() []Head {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Head, 0, len(m.order))
	for _, id := range m.order {
		if h, ok := m.heads[id]; ok {
			out = append(out, *h)
		}
	}
	return out
}

// reveal handles a directory incoming update: spawn or un-minimize.
func (m *Manager) reveal(ctx context.Context, in bus.Incoming) {
	m.mu.Lock()
	h, ok := m.heads[in.ConversationID]
	if ok {
		h.Minimized = false
		h.Preview = in.Preview
		m.mu.Unlock()
	} else {
		h = m.newHeadLocked(in.ConversationID)
		h.Minimized = false
		h.Preview = in.Preview
		m.mu.Unlock()
		if !m.store.Cached(in.ConversationID) {
			go func() {
				_ = m.store.Fetch(ctx, in.ConversationID, msgstore.FetchOptions{Background: true})
			}()
		}
	}
	m.poller.Watch(in.ConversationID)
	m.syncVisibility()
}

// spawnMinimized handles a push incoming signal: make sure a head exists
// without changing how prominent it is.
func (m *Manager) spawnMinimized(in bus.Incoming) {
	m.mu.Lock()
	if h, ok := m.heads[in.ConversationID]; ok {
		h.Preview = in.Preview
		m.mu.Unlock()
		return
	}
	h := m.newHeadLocked(in.ConversationID)
	h.Minimized = true
	h.Preview = in.Preview
	m.mu.Unlock()
}

// newHeadLocked creates and registers a head record. Caller holds mu.
func (m *Manager) newHeadLocked(conversationID int64) *Head {
	name := ""
	preview := ""
	if conv, ok := m.dir.Get(conversationID); ok {
		name = conv.Other.Name
		preview = conv.LastMessage.Body
	}
	h := &Head{
		ConversationID: conversationID,
		DisplayName:    name,
		Preview:        preview,
		State:          StateOpen,
	}
	m.heads[conversationID] = h
	m.order = append(m.order, conversationID)
	metrics.OpenHeads.Inc()
	return h
}

// syncVisibility tells the scheduler whether any head is expanded,
// which drives the list poll cadence.
func (m *Manager) syncVisibility() {
	m.mu.Lock()
	visible := false
	for _, h := range m.heads {
		if h.State == StateOpen && !h.Minimized {
			visible = true
			break
		}
	}
	m.mu.Unlock()
	m.poller.SetChatVisible(visible)
}
