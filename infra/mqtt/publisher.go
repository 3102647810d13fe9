package mqtt

import (
	"context"
	"sync"
)

// Publisher is the publishing side of Client.
type Publisher interface {
	Publish(ctx context.Context, topic, kind string, payload []byte) error
}

var _ Publisher = (*Client)(nil)

// Message is one payload recorded by MockPublisher.
type Message struct {
	Topic   string
	Kind    string
	Payload []byte
}

// MockPublisher records messages in memory. It is used in tests.
type MockPublisher struct {
	// Err is returned by every Publish when set.
	Err error

	mu       sync.Mutex
	messages []Message
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher { return &MockPublisher{} }

// Publish records the message or returns the configured error.
func (m *MockPublisher) Publish(_ context.Context, topic, kind string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages = append(m.messages, Message{Topic: topic, Kind: kind, Payload: append([]byte(nil), payload...)})
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}
