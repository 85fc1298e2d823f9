package heads

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/chat"
	"github.com/mvalente/tablechat/internal/directory"
	"github.com/mvalente/tablechat/internal/msgstore"
)

type fakeBackend struct {
	list      []chat.Conversation
	deleteErr error
}

func (f *fakeBackend) ListConversations(context.Context) ([]chat.Conversation, error) {
	out := make([]chat.Conversation, len(f.list))
	copy(out, f.list)
	return out, nil
}
func (f *fakeBackend) CreateConversation(context.Context, []int64) (chat.Conversation, error) {
	return chat.Conversation{}, nil
}
func (f *fakeBackend) MarkRead(context.Context, int64) error { return nil }
func (f *fakeBackend) DeleteConversation(context.Context, int64) error {
	return f.deleteErr
}

type fakeLister struct {
	fetches atomic.Int64
}

func (f *fakeLister) ListMessages(_ context.Context, id int64) ([]chat.Message, error) {
	f.fetches.Add(1)
	return []chat.Message{{ID: 55, ConversationID: id, SenderID: 2, Body: "oi", CreatedAt: time.Now()}}, nil
}

type fakePoller struct {
	mu       sync.Mutex
	watching map[int64]bool
	visible  bool
}

func newFakePoller() *fakePoller { return &fakePoller{watching: make(map[int64]bool)} }

func (f *fakePoller) Watch(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watching[id] = true
}
func (f *fakePoller) Unwatch(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watching, id)
}
func (f *fakePoller) SetChatVisible(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = v
}
func (f *fakePoller) isWatching(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watching[id]
}
func (f *fakePoller) isVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

type fixture struct {
	bus     *bus.Bus
	dir     *directory.Directory
	store   *msgstore.Store
	lister  *fakeLister
	poller  *fakePoller
	manager *Manager
	backend *fakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	backend := &fakeBackend{list: []chat.Conversation{{
		ID:          7,
		Other:       chat.Participant{ID: 2, Name: "Ana"},
		LastMessage: chat.LastMessage{ID: 55, SenderID: 2, Body: "oi"},
	}}}
	lister := &fakeLister{}
	store := msgstore.New(lister, b, nil)
	dir := directory.New(1, true, backend, store, b, nil)
	if err := dir.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	poller := newFakePoller()
	return &fixture{
		bus:     b,
		dir:     dir,
		store:   store,
		lister:  lister,
		poller:  poller,
		manager: New(true, dir, store, poller, b, nil),
		backend: backend,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	f := newFixture(t)

	f.manager.Open(context.Background(), 7)
	f.manager.Open(context.Background(), 7)

	hs := f.manager.Heads()
	if len(hs) != 1 {
		t.Fatalf("got %d heads, want 1", len(hs))
	}
	if hs[0].Minimized {
		t.Error("head should be expanded after open")
	}
	if hs[0].DisplayName != "Ana" {
		t.Errorf("display name = %q, want Ana", hs[0].DisplayName)
	}
	if !f.poller.isWatching(7) || !f.poller.isVisible() {
		t.Error("open did not start polling")
	}
}

// waitCached blocks until the background fetch triggered by Open has
// populated the conversation's cache.
func waitCached(t *testing.T, store *msgstore.Store, id int64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.Cached(id) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("conversation %d never cached", id)
}

func TestOpenFetchesUncachedHistory(t *testing.T) {
	f := newFixture(t)

	f.manager.Open(context.Background(), 7)

	waitCached(t, f.store, 7)
	if f.lister.fetches.Load() < 1 {
		t.Fatalf("open never fetched the uncached history (fetches=%d)", f.lister.fetches.Load())
	}
}

func TestMinimizeStopsPollExpandsResumesIt(t *testing.T) {
	f := newFixture(t)
	f.manager.Open(context.Background(), 7)

	f.manager.ToggleMinimize(context.Background(), 7)
	if f.manager.Visible(7) {
		t.Error("minimized head reported visible")
	}
	if f.poller.isWatching(7) {
		t.Error("minimize did not stop the message poll")
	}
	if f.poller.isVisible() {
		t.Error("no expanded head left, list cadence should drop to idle")
	}

	f.manager.ToggleMinimize(context.Background(), 7)
	if !f.manager.Visible(7) || !f.poller.isWatching(7) {
		t.Error("expand did not resume polling")
	}
}

func TestCloseKeepsCaches(t *testing.T) {
	f := newFixture(t)
	f.manager.Open(context.Background(), 7)
	f.store.Merge(chat.Message{ID: 55, ConversationID: 7, Body: "oi", CreatedAt: time.Now()})

	f.manager.Close(7)

	if _, ok := f.manager.Get(7); ok {
		t.Error("head still present after close")
	}
	if f.poller.isWatching(7) {
		t.Error("close did not stop the message poll")
	}
	if !f.store.Cached(7) {
		t.Error("close must not drop the message cache")
	}
	if _, ok := f.dir.Get(7); !ok {
		t.Error("close must not delete the conversation")
	}
}

func TestDeleteFailureReturnsToOpen(t *testing.T) {
	f := newFixture(t)
	f.backend.deleteErr = errors.New("server unavailable")
	f.manager.Open(context.Background(), 7)

	f.manager.Delete(context.Background(), 7)

	h, ok := f.manager.Get(7)
	if !ok {
		t.Fatal("head removed despite delete failure")
	}
	if h.State != StateOpen {
		t.Errorf("state = %s, want %s after failed delete", h.State, StateOpen)
	}
	if _, ok := f.dir.Get(7); !ok {
		t.Error("conversation removed despite delete failure")
	}
}

func TestDeleteSuccessClosesAndDrops(t *testing.T) {
	f := newFixture(t)
	f.manager.Open(context.Background(), 7)
	waitCached(t, f.store, 7)

	f.manager.Delete(context.Background(), 7)

	if _, ok := f.manager.Get(7); ok {
		t.Error("head still present after delete")
	}
	if f.store.Cached(7) {
		t.Error("message cache survived delete")
	}
	if _, ok := f.dir.Get(7); ok {
		t.Error("conversation survived delete")
	}
}

func TestIncomingUpdateRevealsHead(t *testing.T) {
	f := newFixture(t)
	f.manager.Start(context.Background())
	defer f.manager.Stop()

	f.manager.Open(context.Background(), 7)
	f.manager.ToggleMinimize(context.Background(), 7)

	f.bus.Publish(bus.Event{Kind: bus.KindDirectoryIncoming, Payload: bus.Incoming{
		ConversationID: 7, MessageID: 56, DisplayName: "Ana", Preview: "novidade",
	}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h, ok := f.manager.Get(7); ok && !h.Minimized {
			if h.Preview != "novidade" {
				t.Errorf("preview = %q, want novidade", h.Preview)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("incoming update never un-minimized the head")
}

func TestPushSpawnsMinimizedHeadWithoutStealingFocus(t *testing.T) {
	f := newFixture(t)
	f.manager.Start(context.Background())
	defer f.manager.Stop()

	f.bus.Publish(bus.Event{Kind: bus.KindPushIncoming, Payload: bus.Incoming{
		ConversationID: 7, MessageID: 56, DisplayName: "Ana", Preview: "psst",
	}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h, ok := f.manager.Get(7); ok {
			if !h.Minimized {
				t.Error("push-spawned head must start minimized")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("push never spawned a head")
}

func TestOnlyOneOptionsMenuAtATime(t *testing.T) {
	f := newFixture(t)
	f.backend.list = append(f.backend.list, chat.Conversation{
		ID: 8, Other: chat.Participant{ID: 3, Name: "Bea"},
	})
	_ = f.dir.Refresh(context.Background())
	f.manager.Open(context.Background(), 7)
	f.manager.Open(context.Background(), 8)

	f.manager.ToggleMenu(7)
	f.manager.ToggleMenu(8)

	h7, _ := f.manager.Get(7)
	h8, _ := f.manager.Get(8)
	if h7.MenuOpen || !h8.MenuOpen {
		t.Errorf("menus: 7=%v 8=%v, want only 8 open", h7.MenuOpen, h8.MenuOpen)
	}
}

func TestDisabledManagerIsNoOp(t *testing.T) {
	f := newFixture(t)
	disabled := New(false, f.dir, f.store, f.poller, f.bus, nil)

	disabled.Open(context.Background(), 7)
	if len(disabled.Heads()) != 0 {
		t.Error("disabled manager opened a head")
	}
}
