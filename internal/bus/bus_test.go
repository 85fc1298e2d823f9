package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("directory.", 8)
	defer cancel()

	b.Publish(Event{Kind: KindDirectoryUpdated, Payload: "snapshot"})

	select {
	case evt := <-ch:
		if evt.Kind != KindDirectoryUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindDirectoryUpdated)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("message.", 8)
	defer cancel()

	b.Publish(Event{Kind: KindDirectoryUpdated})
	b.Publish(Event{Kind: KindMessageMerged})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageMerged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageMerged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected extra event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("head.", 8)
	cancel()

	b.Publish(Event{Kind: KindHeadOpened})

	select {
	case evt := <-ch:
		t.Errorf("received event after cancel: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("message.", 1)
	defer cancel()

	b.Publish(Event{Kind: KindMessageMerged})
	b.Publish(Event{Kind: KindMessageSendAck}) // dropped

	evt := <-ch
	if evt.Kind != KindMessageMerged {
		t.Errorf("got %q, want %q", evt.Kind, KindMessageMerged)
	}
	select {
	case evt := <-ch:
		t.Errorf("second event should have been dropped, got %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
