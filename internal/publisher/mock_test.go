package publisher

import (
	"context"
	"errors"
	"testing"
)

func TestMockPublishAndMessages(t *testing.T) {
	m := NewMockPublisher()

	if err := m.Publish(context.Background(), "topic/a", []byte("hello"), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Publish(context.Background(), "topic/b", []byte("world"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "topic/a" || string(msgs[0].Payload) != "hello" || !msgs[0].Retained {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Topic != "topic/b" || string(msgs[1].Payload) != "world" || msgs[1].Retained {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}
	if got := m.Topic("topic/b"); len(got) != 1 {
		t.Errorf("expected 1 message on topic/b, got %d", len(got))
	}
}

func TestMockPayloadIsCopied(t *testing.T) {
	m := NewMockPublisher()

	payload := []byte("original")
	if err := m.Publish(context.Background(), "t", payload, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mutate the original; the recorded message must not change.
	payload[0] = 'X'

	msgs := m.Messages()
	if string(msgs[0].Payload) != "original" {
		t.Errorf("payload was not copied, got %q", msgs[0].Payload)
	}
}

func TestMockReset(t *testing.T) {
	m := NewMockPublisher()
	m.Publish(context.Background(), "t", []byte("x"), false)
	m.Reset()

	if len(m.Messages()) != 0 {
		t.Errorf("expected 0 messages after reset, got %d", len(m.Messages()))
	}
}

func TestMockClose(t *testing.T) {
	m := NewMockPublisher()
	if m.Closed() {
		t.Fatal("expected not closed initially")
	}

	if err := m.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Closed() {
		t.Fatal("expected closed after Close()")
	}
}

func TestMockSetError(t *testing.T) {
	m := NewMockPublisher()
	testErr := errors.New("broker down")
	m.SetError(testErr)

	err := m.Publish(context.Background(), "t", []byte("x"), false)
	if !errors.Is(err, testErr) {
		t.Fatalf("expected %v, got %v", testErr, err)
	}
	if err := m.Subscribe(context.Background(), "t", func(string, []byte) {}); !errors.Is(err, testErr) {
		t.Fatalf("expected %v from Subscribe, got %v", testErr, err)
	}

	// Should not have recorded the failed publish
	if len(m.Messages()) != 0 {
		t.Errorf("expected 0 messages after error, got %d", len(m.Messages()))
	}

	// Clear error
	m.SetError(nil)
	if err := m.Publish(context.Background(), "t", []byte("y"), false); err != nil {
		t.Fatalf("unexpected error after clearing: %v", err)
	}
	if len(m.Messages()) != 1 {
		t.Errorf("expected 1 message after clearing error, got %d", len(m.Messages()))
	}
}

func TestMockDeliver(t *testing.T) {
	m := NewMockPublisher()

	var got []string
	if err := m.Subscribe(context.Background(), "softphone/line/+/command", func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := m.Deliver("softphone/line/7/command", []byte(`{"action":"hangup"}`)); n != 1 {
		t.Errorf("expected 1 receiver, got %d", n)
	}
	if n := m.Deliver("softphone/line/7/status", []byte(`{}`)); n != 0 {
		t.Errorf("expected 0 receivers, got %d", n)
	}
	if len(got) != 1 || got[0] != `softphone/line/7/command={"action":"hangup"}` {
		t.Errorf("unexpected deliveries %v", got)
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b", false},
		{"a/b", "a/b/c", false},
		{"a/+/c", "a/x/c", true},
		{"a/+/c", "a/x/d", false},
		{"a/#", "a/x/y/z", true},
		{"a/#", "a", true},
		{"a/#", "b/x", false},
		{"#", "anything/at/all", true},
	}
	for _, tt := range tests {
		if got := Match(tt.filter, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}
