package notify

import (
	"context"
	"testing"
)

var _ Bus = (*Hub)(nil)

func TestHubScopesDelivery(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	var gotA, gotB int
	unsubA, _ := h.Subscribe(ctx, "user-a", func(ChangeEvent) { gotA++ })
	_, _ = h.Subscribe(ctx, "user-b", func(ChangeEvent) { gotB++ })

	h.Publish(ctx, "user-a", NewChangeEvent(EventInsert, "bills"))
	if gotA != 1 || gotB != 0 {
		t.Fatalf("expected delivery only to user-a, got a=%d b=%d", gotA, gotB)
	}

	unsubA()
	unsubA()
	h.Publish(ctx, "user-a", NewChangeEvent(EventDelete, "bills"))
	if gotA != 1 {
		t.Fatalf("handler called after unsubscribe")
	}
	if h.Subscribers("user-a") != 0 || h.Subscribers("user-b") != 1 {
		t.Fatalf("unexpected subscriber counts")
	}
}

func TestChangeEventJSON(t *testing.T) {
	ev := NewChangeEvent(EventUpdate, "bills")
	data, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	got, err := ChangeEventFromJSON(data)
	if err != nil {
		t.Fatalf("ChangeEventFromJSON: %v", err)
	}
	if got.Kind != EventUpdate || got.Table != "bills" || !got.At.Equal(ev.At) {
		t.Fatalf("unexpected event %+v", got)
	}

	if _, err := ChangeEventFromJSON([]byte(`{"table":"bills"}`)); err == nil {
		t.Error("expected error for event without kind")
	}
	if _, err := ChangeEventFromJSON([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed event")
	}
}
