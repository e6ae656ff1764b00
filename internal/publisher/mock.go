package publisher

import (
	"context"
	"sync"
)

// Message records a single published message.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// MockPublisher records all publishes for test assertions and lets tests
// deliver messages to subscribers.
type MockPublisher struct {
	mu       sync.Mutex
	messages []Message
	subs     map[string]Handler
	closed   bool
	err      error // if set, Publish and Subscribe return this error
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{subs: make(map[string]Handler)}
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	m.messages = append(m.messages, Message{Topic: topic, Payload: p, Retained: retained})
	return nil
}

func (m *MockPublisher) Subscribe(_ context.Context, filter string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.subs[filter] = h
	return nil
}

// Deliver passes payload to every subscriber whose filter matches topic and
// reports how many received it.
func (m *MockPublisher) Deliver(topic string, payload []byte) int {
	m.mu.Lock()
	var hs []Handler
	for filter, h := range m.subs {
		if Match(filter, topic) {
			hs = append(hs, h)
		}
	}
	m.mu.Unlock()

	for _, h := range hs {
		h(topic, payload)
	}
	return len(hs)
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns a copy of all published messages.
func (m *MockPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]Message, len(m.messages))
	copy(msgs, m.messages)
	return msgs
}

// Topic returns the messages published to topic, oldest first.
func (m *MockPublisher) Topic(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Reset clears all recorded messages.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// Closed returns whether Close was called.
func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetError causes all subsequent Publish and Subscribe calls to return err.
// Pass nil to clear.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
