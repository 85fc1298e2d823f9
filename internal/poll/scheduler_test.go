package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/chat"
	"github.com/mvalente/tablechat/internal/directory"
	"github.com/mvalente/tablechat/internal/msgstore"
)

type countingBackend struct {
	lists atomic.Int64
}

func (c *countingBackend) ListConversations(context.Context) ([]chat.Conversation, error) {
	c.lists.Add(1)
	return nil, nil
}
func (c *countingBackend) CreateConversation(context.Context, []int64) (chat.Conversation, error) {
	return chat.Conversation{}, nil
}
func (c *countingBackend) MarkRead(context.Context, int64) error        { return nil }
func (c *countingBackend) DeleteConversation(context.Context, int64) error { return nil }

type countingLister struct {
	fetches atomic.Int64
}

func (c *countingLister) ListMessages(context.Context, int64) ([]chat.Message, error) {
	c.fetches.Add(1)
	return nil, nil
}

func fixture(iv Intervals) (*Scheduler, *countingBackend, *countingLister) {
	b := bus.New()
	backend := &countingBackend{}
	lister := &countingLister{}
	store := msgstore.New(lister, b, nil)
	dir := directory.New(1, true, backend, store, b, nil)
	return New(iv, true, dir, store, nil), backend, lister
}

func short() Intervals {
	return Intervals{ListActive: 20 * time.Millisecond, ListIdle: 150 * time.Millisecond, Conversation: 20 * time.Millisecond}
}

func TestStartIssuesImmediateRefreshAndTicks(t *testing.T) {
	s, backend, _ := fixture(short())
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if backend.lists.Load() >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no initial list refresh")
}

func TestCadenceSwitchSpeedsUpPolling(t *testing.T) {
	s, backend, _ := fixture(short())
	s.Start(context.Background())
	defer s.Stop()

	s.SetChatVisible(true)
	time.Sleep(150 * time.Millisecond)
	// At the 20ms active cadence we expect several ticks in 150ms; the
	// 150ms idle cadence would have produced at most one or two.
	if n := backend.lists.Load(); n < 4 {
		t.Errorf("got %d refreshes at active cadence, want at least 4", n)
	}
}

func TestWatchPollsConversationInBackground(t *testing.T) {
	s, _, lister := fixture(short())
	s.Start(context.Background())
	defer s.Stop()

	s.Watch(7)
	if !s.Watching(7) {
		t.Fatal("watch not registered")
	}
	// Watch is idempotent.
	s.Watch(7)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if lister.fetches.Load() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if lister.fetches.Load() < 2 {
		t.Fatal("conversation timer never fetched")
	}

	s.Unwatch(7)
	if s.Watching(7) {
		t.Fatal("unwatch did not remove the timer")
	}
	n := lister.fetches.Load()
	time.Sleep(100 * time.Millisecond)
	if got := lister.fetches.Load(); got > n+1 {
		t.Errorf("timer kept fetching after unwatch: %d -> %d", n, got)
	}
}

func TestStopCancelsEverything(t *testing.T) {
	s, backend, lister := fixture(short())
	s.Start(context.Background())
	s.SetChatVisible(true)
	s.Watch(7)
	time.Sleep(60 * time.Millisecond)

	s.Stop()
	lists := backend.lists.Load()
	fetches := lister.fetches.Load()
	time.Sleep(100 * time.Millisecond)
	if backend.lists.Load() > lists+1 || lister.fetches.Load() > fetches+1 {
		t.Error("timers kept running after stop")
	}
}

func TestDisabledSchedulerStartsNothing(t *testing.T) {
	b := bus.New()
	backend := &countingBackend{}
	store := msgstore.New(&countingLister{}, b, nil)
	dir := directory.New(1, false, backend, store, b, nil)
	s := New(short(), false, dir, store, nil)

	s.Start(context.Background())
	s.SetChatVisible(true)
	s.Watch(7)
	time.Sleep(80 * time.Millisecond)

	if backend.lists.Load() != 0 {
		t.Error("disabled scheduler polled the backend")
	}
	if s.Watching(7) {
		t.Error("disabled scheduler registered a watcher")
	}
}
