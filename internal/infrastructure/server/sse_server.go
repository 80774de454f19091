package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/pkg/errors"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain/shared"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/logging"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/metrics"
)

const defaultMaxBodyBytes = 1 << 20

var jsonMediaType = contenttype.NewMediaType("application/json")

// Dispatcher accepts a raw postback for a session. It returns a typed domain
// error when the session is unknown or the payload cannot be parsed; the
// tool itself runs after Dispatch returns.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, payload []byte) error
}

// SSEServer serves the streaming channel endpoint and the postback endpoint.
type SSEServer struct {
	directory       domain.SessionDirectory
	dispatcher      Dispatcher
	baseURL         string
	basePath        string
	messageEndpoint string
	sseEndpoint     string
	queueSize       int
	keepAlive       time.Duration
	maxBodyBytes    int64
	logger          *logging.Logger
	metrics         *metrics.Recorder
	closing         atomic.Bool
}

// SSEOption defines a function type for configuring SSEServer
type SSEOption func(*SSEServer)

// WithBaseURL sets the base URL prepended to the announced postback endpoint.
// Invalid URLs are ignored.
func WithBaseURL(baseURL string) SSEOption {
	return func(s *SSEServer) {
		if baseURL != "" {
			u, err := url.Parse(baseURL)
			if err != nil {
				return
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return
			}
			if u.Host == "" || strings.HasPrefix(u.Host, ":") {
				return
			}
			if len(u.Query()) > 0 {
				return
			}
		}
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithBasePath sets the base path for the SSE server
func WithBasePath(basePath string) SSEOption {
	return func(s *SSEServer) {
		if basePath == "" {
			s.basePath = ""
			return
		}
		if !strings.HasPrefix(basePath, "/") {
			basePath = "/" + basePath
		}
		s.basePath = strings.TrimSuffix(basePath, "/")
	}
}

// WithMessageEndpoint sets the message endpoint path
func WithMessageEndpoint(endpoint string) SSEOption {
	return func(s *SSEServer) {
		s.messageEndpoint = endpoint
	}
}

// WithSSEEndpoint sets the SSE endpoint path
func WithSSEEndpoint(endpoint string) SSEOption {
	return func(s *SSEServer) {
		s.sseEndpoint = endpoint
	}
}

// WithSessionQueueSize bounds the per-session outbound queue.
func WithSessionQueueSize(n int) SSEOption {
	return func(s *SSEServer) {
		s.queueSize = n
	}
}

// WithKeepAliveInterval sets how often idle channels receive a comment frame.
// Zero disables keep-alives.
func WithKeepAliveInterval(d time.Duration) SSEOption {
	return func(s *SSEServer) {
		s.keepAlive = d
	}
}

// WithMaxBodyBytes limits the size of a postback body.
func WithMaxBodyBytes(n int64) SSEOption {
	return func(s *SSEServer) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) SSEOption {
	return func(s *SSEServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) SSEOption {
	return func(s *SSEServer) {
		s.metrics = m
	}
}

// NewSSEServer creates a new SSE server backed by directory and dispatcher.
func NewSSEServer(directory domain.SessionDirectory, dispatcher Dispatcher, opts ...SSEOption) *SSEServer {
	s := &SSEServer{
		directory:       directory,
		dispatcher:      dispatcher,
		sseEndpoint:     "/sse",
		messageEndpoint: "/message",
		queueSize:       defaultQueueSize,
		maxBodyBytes:    defaultMaxBodyBytes,
		logger:          logging.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ServeHTTP routes requests to the SSE and message endpoints.
func (s *SSEServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case s.CompleteSsePath():
		s.HandleSSE(w, r)
	case s.CompleteMessagePath():
		s.HandleMessage(w, r)
	default:
		http.NotFound(w, r)
	}
}

// Shutdown closes every open session. New channels are refused afterwards.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	done := make(chan struct{})
	go func() {
		s.directory.CloseAll()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleSSE opens a channel session and streams to it until it closes.
func (s *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.closing.Load() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	log := s.requestLogger(r)
	session, err := Open(w, s.directory, s.CompleteMessageEndpoint(),
		WithQueueSize(s.queueSize),
		WithKeepAlive(s.keepAlive),
		WithOnClose(s.sessionClosed),
	)
	if err != nil {
		if errors.Is(err, ErrResponseWriterNotFlusher) {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		log.Error("failed to open session", logging.Fields{"error": err})
		http.Error(w, err.Error(), domain.StatusCode(err))
		return
	}

	s.metrics.SessionOpened()
	log.Info("session opened", logging.Fields{
		"session_id": session.ID(),
		"user_agent": r.UserAgent(),
	})

	if err := session.Serve(r.Context()); err != nil {
		log.Warn("session stream ended with error", logging.Fields{
			"session_id": session.ID(),
			"error":      err,
		})
	}
}

// requestLogger returns the request-scoped logger installed by
// logging.Middleware, or the server logger when none is present.
func (s *SSEServer) requestLogger(r *http.Request) *logging.Logger {
	return logging.FromContextOr(r.Context(), s.logger)
}

func (s *SSEServer) sessionClosed(id string) {
	s.metrics.SessionClosed()
	s.logger.Info("session closed", logging.Fields{"session_id": id})
}

// HandleMessage accepts a postback for an open session. The result of the
// invocation travels on the session's channel; the postback itself is
// answered with 202 Accepted.
func (s *SSEServer) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONRPCError(w, http.StatusMethodNotAllowed, shared.InvalidRequest, "Method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.metrics.Postback("missing_session")
		s.writeJSONRPCError(w, http.StatusBadRequest, shared.InvalidParams, ErrMissingSessionID.Error())
		return
	}

	if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(jsonMediaType) {
		s.metrics.Postback("unsupported_media_type")
		s.writeJSONRPCError(w, http.StatusUnsupportedMediaType, shared.InvalidRequest, "content-type must be application/json")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes+1))
	if err != nil {
		s.metrics.Postback("malformed")
		s.writeJSONRPCError(w, http.StatusBadRequest, shared.ParseError, "failed to read body")
		return
	}
	if int64(len(body)) > s.maxBodyBytes {
		s.metrics.Postback("too_large")
		s.writeJSONRPCError(w, http.StatusRequestEntityTooLarge, shared.InvalidRequest, "request body too large")
		return
	}

	if err := s.dispatcher.Dispatch(r.Context(), sessionID, body); err != nil {
		s.rejectPostback(w, r, sessionID, err)
		return
	}

	s.metrics.Postback("accepted")
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")
}

func (s *SSEServer) rejectPostback(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	log := s.requestLogger(r)
	fields := logging.Fields{"session_id": sessionID, "error": err}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		s.metrics.Postback("unknown_session")
		log.Warn("postback for unknown session", fields)
		s.writeJSONRPCError(w, http.StatusNotFound, shared.InvalidParams, err.Error())
	case domain.KindMalformedRequest:
		s.metrics.Postback("malformed")
		log.Warn("malformed postback", fields)
		s.writeJSONRPCError(w, http.StatusBadRequest, shared.ParseError, err.Error())
	default:
		s.metrics.Postback("error")
		log.Error("postback failed", fields)
		s.writeJSONRPCError(w, domain.StatusCode(err), shared.InternalError, err.Error())
	}
}

// writeJSONRPCError writes a JSON-RPC error response with the given status.
func (s *SSEServer) writeJSONRPCError(w http.ResponseWriter, status int, code shared.ErrorCode, message string) {
	response := domain.CreateErrorResponse(shared.JSONRPCVersion, nil, int(code), message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Debug("failed to write error response", logging.Fields{"error": err})
	}
}

// SessionCount returns the number of open sessions.
func (s *SSEServer) SessionCount() int {
	return s.directory.Count()
}

// GetUrlPath returns the path component of input.
func (s *SSEServer) GetUrlPath(input string) (string, error) {
	parse, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL %s: %w", input, err)
	}
	return parse.Path, nil
}

// CompleteSseEndpoint returns the full SSE endpoint URL.
func (s *SSEServer) CompleteSseEndpoint() string {
	return s.baseURL + s.basePath + s.sseEndpoint
}

// CompleteSsePath returns the path the SSE endpoint is served on.
func (s *SSEServer) CompleteSsePath() string {
	path, err := s.GetUrlPath(s.CompleteSseEndpoint())
	if err != nil {
		return s.basePath + s.sseEndpoint
	}
	return path
}

// CompleteMessageEndpoint returns the postback endpoint announced to clients.
func (s *SSEServer) CompleteMessageEndpoint() string {
	return s.baseURL + s.basePath + s.messageEndpoint
}

// CompleteMessagePath returns the path the postback endpoint is served on.
func (s *SSEServer) CompleteMessagePath() string {
	path, err := s.GetUrlPath(s.CompleteMessageEndpoint())
	if err != nil {
		return s.basePath + s.messageEndpoint
	}
	return path
}
