package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, EventFailed)
	defer unsubOnly()

	b.Publish(Event{Type: EventProcessed, Data: 1})
	b.Publish(Event{Type: EventFailed, Data: 2})

	got := <-all
	if got.Type != EventProcessed || got.Time.IsZero() {
		t.Fatalf("unexpected first event: %+v", got)
	}
	if got := <-all; got.Type != EventFailed {
		t.Fatalf("unexpected second event: %+v", got)
	}
	select {
	case e := <-only:
		if e.Type != EventFailed {
			t.Fatalf("filtered subscriber got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("filtered subscriber got nothing")
	}
	select {
	case e := <-only:
		t.Fatalf("unexpected extra event %+v", e)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if st := b.Stats(); st.Published != 2 || st.Dropped != 1 || st.Subscribers != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
	if st := b.Stats(); st.Subscribers != 0 {
		t.Fatalf("expected no subscribers, got %d", st.Subscribers)
	}
}
