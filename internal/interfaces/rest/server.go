// Package rest provides the HTTP interface for the geolocation tool server.
package rest

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/logging"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/metrics"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/server"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/usecases"
)

// Options holds the collaborators of an MCPServer.
type Options struct {
	Addr           string
	AllowedOrigins []string
	Service        *usecases.ServerService
	Dispatcher     *usecases.Dispatcher
	SSEServer      *server.SSEServer
	Metrics        *metrics.Recorder
	Logger         *logging.Logger
}

// MCPServer represents the HTTP server for the MCP protocol.
type MCPServer struct {
	service    *usecases.ServerService
	dispatcher *usecases.Dispatcher
	sseServer  *server.SSEServer
	httpServer *http.Server
	logger     *logging.Logger
}

// NewMCPServer creates the HTTP server and its routes.
func NewMCPServer(opts Options) *MCPServer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &MCPServer{
		service:    opts.Service,
		dispatcher: opts.Dispatcher,
		sseServer:  opts.SSEServer,
		logger:     logger,
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *MCPServer) routes(opts Options) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(logging.Middleware(s.logger))

	r.Get("/", s.handleHealth)
	r.HandleFunc(s.sseServer.CompleteSsePath(), s.sseServer.HandleSSE)
	r.HandleFunc(s.sseServer.CompleteMessagePath(), s.sseServer.HandleMessage)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	return r
}

// Handler returns the root HTTP handler.
func (s *MCPServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleHealth answers the liveness probe.
func (s *MCPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	name, version, _ := s.service.ServerInfo()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"server":  name,
		"version": version,
	})
}

// Start binds the configured address and serves until Stop is called. A
// failure to bind is returned immediately.
func (s *MCPServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.httpServer.Addr)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called.
func (s *MCPServer) Serve(ln net.Listener) error {
	addr := ln.Addr().String()
	s.logger.Info("MCP server started", logging.Fields{
		"addr":             addr,
		"sse_endpoint":     s.sseServer.CompleteSseEndpoint(),
		"message_endpoint": s.sseServer.CompleteMessageEndpoint(),
	})

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

// Stop closes every channel, stops accepting requests and waits for
// in-flight tool invocations, all bounded by ctx.
func (s *MCPServer) Stop(ctx context.Context) error {
	s.logger.Info("MCP server stopping", logging.Fields{"sessions": s.sseServer.SessionCount()})

	if err := s.sseServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "close sessions")
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}

	done := make(chan struct{})
	go func() {
		s.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for in-flight invocations")
	}
}
