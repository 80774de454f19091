package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
)

// sse_session.go implements domain.ChannelSession on top of an SSE response.

const (
	eventEndpoint = "endpoint"
	eventMessage  = "message"
)

// SessionOption configures a channel session.
type SessionOption func(*sseSession)

// WithQueueSize sets how many outbound messages may wait for the writer.
func WithQueueSize(n int) SessionOption {
	return func(s *sseSession) {
		if n > 0 {
			s.queue = make(chan string, n)
		}
	}
}

// WithKeepAlive makes the writer emit an SSE comment at the given interval.
func WithKeepAlive(d time.Duration) SessionOption {
	return func(s *sseSession) {
		s.keepAlive = d
	}
}

// WithOnClose registers a callback run exactly once when the session closes.
func WithOnClose(fn func(id string)) SessionOption {
	return func(s *sseSession) {
		s.onClose = append(s.onClose, fn)
	}
}

// sseSession is one open SSE connection.
type sseSession struct {
	id        string
	endpoint  string
	writer    http.ResponseWriter
	flusher   http.Flusher
	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
	keepAlive time.Duration
	onClose   []func(id string)

	mu    sync.RWMutex
	state domain.SessionState
}

// NewSSESession creates an open session bound to w. messageEndpoint is the
// postback path; the session id is appended as the sessionId query parameter.
func NewSSESession(w http.ResponseWriter, messageEndpoint string, opts ...SessionOption) (*sseSession, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrResponseWriterNotFlusher
	}

	id := uuid.New().String()
	sep := "?"
	if strings.Contains(messageEndpoint, "?") {
		sep = "&"
	}

	s := &sseSession{
		id:       id,
		endpoint: messageEndpoint + sep + "sessionId=" + id,
		writer:   w,
		flusher:  flusher,
		queue:    make(chan string, defaultQueueSize),
		done:     make(chan struct{}),
		state:    domain.SessionOpen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open creates a session for w and registers it in directory. The session
// removes itself from the directory when it closes.
func Open(w http.ResponseWriter, directory domain.SessionDirectory, messageEndpoint string, opts ...SessionOption) (*sseSession, error) {
	s, err := NewSSESession(w, messageEndpoint, append([]SessionOption{WithOnClose(directory.Remove)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := directory.Put(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session ID.
func (s *sseSession) ID() string {
	return s.id
}

// Endpoint returns the postback endpoint announced to the client.
func (s *sseSession) Endpoint() string {
	return s.endpoint
}

// State returns the lifecycle state.
func (s *sseSession) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed once the session is closed.
func (s *sseSession) Done() <-chan struct{} {
	return s.done
}

// Send queues msg for the writer loop. Messages from one session are written
// in the order Send was called.
func (s *sseSession) Send(ctx context.Context, msg domain.Message) error {
	frame, err := formatEvent(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != domain.SessionOpen {
		return domain.NewSessionClosedError(s.id)
	}
	select {
	case <-s.done:
		return domain.NewSessionClosedError(s.id)
	default:
	}

	select {
	case s.queue <- frame:
		return nil
	case <-s.done:
		return domain.NewSessionClosedError(s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the session closed and runs the close callbacks. The done
// channel is closed before taking the state lock so that senders blocked on
// a full queue release their read lock.
func (s *sseSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.state = domain.SessionClosed
		s.mu.Unlock()
		for _, fn := range s.onClose {
			fn(s.id)
		}
	})
}

// Serve writes the SSE stream until the peer disconnects, a write fails or
// the session is closed. It must run on the goroutine serving the request.
func (s *sseSession) Serve(ctx context.Context) error {
	h := s.writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.writer.WriteHeader(http.StatusOK)

	if err := s.write(fmt.Sprintf("event: %s\ndata: %s\n\n", eventEndpoint, s.endpoint)); err != nil {
		s.Close()
		return err
	}

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame := <-s.queue:
			if err := s.write(frame); err != nil {
				s.Close()
				return err
			}
		case <-tick:
			if err := s.write(": ping\n\n"); err != nil {
				s.Close()
				return err
			}
		case <-ctx.Done():
			s.Close()
			return nil
		case <-s.done:
			s.drain()
			return nil
		}
	}
}

// drain writes whatever is still queued, best effort.
func (s *sseSession) drain() {
	for {
		select {
		case frame := <-s.queue:
			if err := s.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *sseSession) write(frame string) error {
	if _, err := s.writer.Write([]byte(frame)); err != nil {
		return errors.Wrapf(err, "write to session %s", s.id)
	}
	s.flusher.Flush()
	return nil
}

// formatEvent renders msg as an SSE frame. Non-string data is JSON encoded.
func formatEvent(msg domain.Message) (string, error) {
	event := msg.Event
	if event == "" {
		event = eventMessage
	}

	var data string
	switch v := msg.Data.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		data = string(b)
	}

	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(event)
	sb.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return sb.String(), nil
}
