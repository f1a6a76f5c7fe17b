package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Emit(KindChatDone, "1@c.us")

	select {
	case evt := <-ch:
		if evt.Kind != KindChatDone {
			t.Errorf("got kind %q, want %s", evt.Kind, KindChatDone)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp should be filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("calendar.", 10)
	defer unsub()

	b.Emit(KindChatState, nil)
	b.Emit(KindEventCreated, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindEventCreated {
			t.Errorf("got kind %q, want %s", evt.Kind, KindEventCreated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	unsub()
	unsub()

	b.Emit(KindFleetDone, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	b.Emit(KindFleetStarted, nil)
	b.Emit(KindFleetDone, nil)

	evt := <-ch
	if evt.Kind != KindFleetStarted {
		t.Errorf("got %q, want %s", evt.Kind, KindFleetStarted)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Emit(KindChatDone, nil)
	if b.Dropped() != 0 {
		t.Error("nil bus should report zero drops")
	}
}
