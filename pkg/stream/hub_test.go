package stream

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	evt := NewEvent(TypeTraceCompleted, map[string]string{"trace_id": "t-1"})
	if evt.Type != TypeTraceCompleted {
		t.Fatalf("expected type %q, got %q", TypeTraceCompleted, evt.Type)
	}
	if evt.At == "" {
		t.Fatal("expected timestamp")
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["trace_id"] != "t-1" {
		t.Fatalf("expected trace_id=t-1, got %q", payload["trace_id"])
	}
}

func TestSubscribePublishAndUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe(1)
	h.Publish(NewEvent(TypePolicyUpdated, nil))

	select {
	case evt := <-ch:
		if evt.Type != TypePolicyUpdated {
			t.Fatalf("expected policy event, got %q", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	h.Unsubscribe(ch)
	// Must not panic on repeated calls.
	h.Unsubscribe(ch)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe(1)
	defer h.Unsubscribe(ch)

	h.Publish(NewEvent("first", nil))
	h.Publish(NewEvent("second", nil))

	select {
	case evt := <-ch:
		if evt.Type != "first" {
			t.Fatalf("expected first event to remain in buffer, got %q", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("did not expect second buffered event, got %q", evt.Type)
	default:
	}

	if st := h.Stats(); st.Dropped != 1 {
		t.Fatalf("expected 1 dropped event counted, got %d", st.Dropped)
	}
}

func TestStatsTracksSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub()
	if st := h.Stats(); st.Subscribers != 0 || st.Dropped != 0 {
		t.Fatalf("expected empty hub stats, got %+v", st)
	}
	a := h.Subscribe(1)
	b := h.Subscribe(1)
	if st := h.Stats(); st.Subscribers != 2 {
		t.Fatalf("expected 2 subscribers, got %d", st.Subscribers)
	}
	h.Unsubscribe(a)
	h.Unsubscribe(b)
	if st := h.Stats(); st.Subscribers != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", st.Subscribers)
	}
}
