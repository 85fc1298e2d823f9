package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mvalente/tablechat/internal/api"
	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/chat"
	"github.com/mvalente/tablechat/internal/msgstore"
)

type fakeBackend struct {
	list      []chat.Conversation
	listErr   error
	markRead  chan int64
	deleteErr error
	deleted   []int64
}

func (f *fakeBackend) ListConversations(context.Context) ([]chat.Conversation, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]chat.Conversation, len(f.list))
	copy(out, f.list)
	return out, nil
}

func (f *fakeBackend) CreateConversation(_ context.Context, participants []int64) (chat.Conversation, error) {
	return chat.Conversation{ID: 100, Other: chat.Participant{ID: participants[0]}}, nil
}

func (f *fakeBackend) MarkRead(_ context.Context, id int64) error {
	if f.markRead != nil {
		f.markRead <- id
	}
	return nil
}

func (f *fakeBackend) DeleteConversation(_ context.Context, id int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func conv(id int64, unread int, lastID, senderID int64) chat.Conversation {
	return chat.Conversation{
		ID:          id,
		Other:       chat.Participant{ID: 2, Name: "Ana"},
		LastMessage: chat.LastMessage{ID: lastID, Body: "preview", SenderID: senderID, At: time.Now()},
		UnreadCount: unread,
	}
}

func newDirectory(backend Backend, b *bus.Bus) (*Directory, *msgstore.Store) {
	store := msgstore.New(nil, b, nil)
	return New(1, true, backend, store, b, nil), store
}

func TestRefreshNotifiesIncomingOnce(t *testing.T) {
	backend := &fakeBackend{list: []chat.Conversation{conv(7, 2, 55, 2)}}
	b := bus.New()
	d, _ := newDirectory(backend, b)

	ch, cancel := b.Subscribe(bus.KindDirectoryIncoming, 8)
	defer cancel()

	// Baseline snapshot: no notifications.
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Fatalf("baseline refresh must not notify, got %v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	// New message 56 from the other participant.
	backend.list = []chat.Conversation{conv(7, 3, 56, 2)}
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		in := evt.Payload.(bus.Incoming)
		if in.ConversationID != 7 || in.MessageID != 56 {
			t.Errorf("unexpected incoming payload: %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for incoming event")
	}
	if !d.AlreadyNotified(7, 56) {
		t.Error("message 56 not recorded as notified")
	}

	// The identical poll response must not re-notify.
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Errorf("repeat poll re-notified: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRefreshIgnoresOwnMessages(t *testing.T) {
	backend := &fakeBackend{list: []chat.Conversation{conv(7, 0, 55, 2)}}
	b := bus.New()
	d, _ := newDirectory(backend, b)

	ch, cancel := b.Subscribe(bus.KindDirectoryIncoming, 8)
	defer cancel()

	_ = d.Refresh(context.Background())
	// Last message now from the current user (id 1).
	backend.list = []chat.Conversation{conv(7, 0, 56, 1)}
	_ = d.Refresh(context.Background())

	select {
	case evt := <-ch:
		t.Errorf("own message triggered incoming update: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRefreshErrorStates(t *testing.T) {
	backend := &fakeBackend{list: []chat.Conversation{conv(7, 0, 55, 2)}}
	d, _ := newDirectory(backend, bus.New())

	_ = d.Refresh(context.Background())
	if len(d.Conversations()) != 1 {
		t.Fatal("list not loaded")
	}

	backend.listErr = api.ErrAuthRequired
	if err := d.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	kind, _ := d.ErrorState()
	if kind != ErrKindAuth {
		t.Errorf("error kind = %q, want %q", kind, ErrKindAuth)
	}
	if len(d.Conversations()) != 0 {
		t.Error("list not cleared on error")
	}

	backend.listErr = errors.New("connection reset")
	_ = d.Refresh(context.Background())
	if kind, _ := d.ErrorState(); kind != ErrKindNetwork {
		t.Errorf("error kind = %q, want %q", kind, ErrKindNetwork)
	}

	// Recovery on the next tick clears the banner.
	backend.listErr = nil
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if kind, msg := d.ErrorState(); kind != "" || msg != "" {
		t.Errorf("error state not cleared: %q %q", kind, msg)
	}
}

func TestMarkReadOptimistic(t *testing.T) {
	backend := &fakeBackend{
		list:     []chat.Conversation{conv(7, 3, 55, 2)},
		markRead: make(chan int64, 1),
	}
	d, _ := newDirectory(backend, bus.New())
	_ = d.Refresh(context.Background())

	d.MarkRead(context.Background(), 7)

	c, _ := d.Get(7)
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 immediately", c.UnreadCount)
	}
	select {
	case id := <-backend.markRead:
		if id != 7 {
			t.Errorf("mark read sent for %d, want 7", id)
		}
	case <-time.After(time.Second):
		t.Fatal("mark read request never dispatched")
	}
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	backend := &fakeBackend{list: []chat.Conversation{conv(7, 0, 55, 2), conv(8, 0, 60, 2)}}
	b := bus.New()
	d, store := newDirectory(backend, b)
	_ = d.Refresh(context.Background())
	store.Merge(chat.Message{ID: 55, ConversationID: 7, Body: "x", CreatedAt: time.Now()})

	ch, cancel := b.Subscribe(bus.KindDirectoryDeleted, 8)
	defer cancel()

	if err := d.Delete(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Get(7); ok {
		t.Error("conversation still in directory")
	}
	if store.Cached(7) {
		t.Error("message cache not dropped")
	}
	select {
	case evt := <-ch:
		if evt.Payload.(int64) != 7 {
			t.Errorf("deleted event for %v, want 7", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for deleted event")
	}
}

func TestDeleteFailureKeepsConversation(t *testing.T) {
	backend := &fakeBackend{
		list:      []chat.Conversation{conv(7, 0, 55, 2)},
		deleteErr: errors.New("server unavailable"),
	}
	d, _ := newDirectory(backend, bus.New())
	_ = d.Refresh(context.Background())

	if err := d.Delete(context.Background(), 7); err == nil {
		t.Fatal("expected delete error")
	}
	if _, ok := d.Get(7); !ok {
		t.Error("conversation removed despite failure")
	}
}

func TestAutoSelectFirstConversation(t *testing.T) {
	backend := &fakeBackend{list: []chat.Conversation{conv(9, 0, 55, 2), conv(7, 0, 60, 2)}}
	d, _ := newDirectory(backend, bus.New())

	if d.Active() != 0 {
		t.Fatal("active should start at zero")
	}
	_ = d.Refresh(context.Background())
	if d.Active() != 9 {
		t.Errorf("active = %d, want first item 9", d.Active())
	}

	// An explicit selection is not overridden by later refreshes.
	d.SetActive(7)
	_ = d.Refresh(context.Background())
	if d.Active() != 7 {
		t.Errorf("active = %d, want 7 preserved", d.Active())
	}
}

func TestSendAckUpdatesLastMessage(t *testing.T) {
	backend := &fakeBackend{list: []chat.Conversation{conv(7, 0, 55, 2)}}
	b := bus.New()
	d, _ := newDirectory(backend, b)
	_ = d.Refresh(context.Background())

	d.Start(context.Background())
	defer d.Stop()

	b.Publish(bus.Event{Kind: bus.KindMessageSendAck, Payload: chat.Message{
		ID: 90, ConversationID: 7, SenderID: 1, Body: "sent it", CreatedAt: time.Now(),
	}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c, _ := d.Get(7); c.LastMessage.ID == 90 {
			if c.UnreadCount != 0 {
				t.Errorf("own send must not bump unread, got %d", c.UnreadCount)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("last message never updated from send ack")
}
