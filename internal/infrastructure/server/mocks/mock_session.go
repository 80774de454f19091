// Package mocks provides test doubles for the server's domain contracts.
package mocks

import (
	"context"
	"sync"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
)

// MockChannelSession is a mock implementation of domain.ChannelSession that
// records every message sent to it.
type MockChannelSession struct {
	id           string
	mu           sync.Mutex
	closed       bool
	closeCalls   int
	done         chan struct{}
	sendErr      error
	messagesSent []domain.Message
	onClose      func(id string)
	triggerCond  *sync.Cond
}

// NewMockChannelSession creates an open mock session.
func NewMockChannelSession(id string) *MockChannelSession {
	m := &MockChannelSession{
		id:   id,
		done: make(chan struct{}),
	}
	m.triggerCond = sync.NewCond(&m.mu)
	return m
}

// SetSendError sets the error to return from Send while the session is open
func (m *MockChannelSession) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// OnClose registers a callback run on the first Close, such as a
// directory's Remove.
func (m *MockChannelSession) OnClose(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// ID returns the session id.
func (m *MockChannelSession) ID() string { return m.id }

// Endpoint returns the postback endpoint.
func (m *MockChannelSession) Endpoint() string { return "/message?sessionId=" + m.id }

// State reports OPEN until Close is called.
func (m *MockChannelSession) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.SessionClosed
	}
	return domain.SessionOpen
}

// Send records a sent message
func (m *MockChannelSession) Send(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.NewSessionClosedError(m.id)
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.messagesSent = append(m.messagesSent, msg)
	m.triggerCond.Broadcast()
	return nil
}

// Close marks the session closed and runs the close callback once.
func (m *MockChannelSession) Close() {
	m.mu.Lock()
	m.closeCalls++
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	onClose := m.onClose
	m.triggerCond.Broadcast()
	m.mu.Unlock()

	if onClose != nil {
		onClose(m.id)
	}
}

// Done is closed once Close has been called.
func (m *MockChannelSession) Done() <-chan struct{} { return m.done }

// CloseCalls returns how many times Close was called
func (m *MockChannelSession) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// GetMessagesSent gets a copy of all sent messages
func (m *MockChannelSession) GetMessagesSent() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.messagesSent...)
}

// WaitForMessageCount waits until at least count messages have been sent or
// the session is closed.
func (m *MockChannelSession) WaitForMessageCount(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.messagesSent) < count && !m.closed {
		m.triggerCond.Wait()
	}
}
