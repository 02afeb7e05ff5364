package event

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := NewBus()
	_, ch1 := b.Subscribe(4)
	_, ch2 := b.Subscribe(4)

	b.Emit(SymbolAdded, "AAPL", "")

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != SymbolAdded || evt.Symbol != "AAPL" {
				t.Errorf("subscriber %d got %+v", i, evt)
			}
			if evt.Timestamp.IsZero() {
				t.Errorf("subscriber %d event missing timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBus()
	_, ch := b.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Emit(LagDetected, "", "behind")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
	// One event fits the buffer; the rest were dropped.
	if evt := <-ch; evt.Type != LagDetected {
		t.Errorf("buffered event = %+v", evt)
	}
}

func TestUnsubscribeCloses(t *testing.T) {
	b := NewBus()
	id, ch := b.Subscribe(1)
	b.Unsubscribe(id)
	if _, open := <-ch; open {
		t.Error("unsubscribed channel should be closed")
	}
	// Publishing after unsubscribe must not panic.
	b.Emit(SessionEnd, "", "")
}
