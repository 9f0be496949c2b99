package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	if err := q.Publish(ctx, Message{Type: TypeAccepted, Body: []byte("rec-1")}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != TypeAccepted || string(msg.Body) != "rec-1" {
			t.Errorf("got %q/%q", msg.Type, msg.Body)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryPublishCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewInMemory(0)
	if err := q.Publish(ctx, Message{Type: TypeAccepted}); err == nil {
		t.Error("Publish() on cancelled context expected error")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{name: "record id", msg: Message{Type: TypeAccepted, Body: []byte("acc-123")}},
		{name: "empty body", msg: Message{Type: TypeAccepted, Body: []byte("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deserialize(serialize(tt.msg))
			if got.Type != tt.msg.Type || string(got.Body) != string(tt.msg.Body) {
				t.Errorf("round trip = %q/%q, want %q/%q", got.Type, got.Body, tt.msg.Type, tt.msg.Body)
			}
		})
	}
}
