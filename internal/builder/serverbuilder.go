// Package builder assembles the geolocation tool server from its parts.
package builder

import (
	"fmt"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/config"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/logging"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/metrics"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/server"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/interfaces/rest"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/usecases"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/usecases/geolocation"
)

// Server identity reported by initialize and the liveness probe.
const (
	DefaultName         = "ip-geolocation"
	DefaultVersion      = "1.0.0"
	DefaultInstructions = "提供 IP 地址归属地查询功能"
)

// ServerBuilder implements the Builder pattern for creating MCP servers
type ServerBuilder struct {
	name         string
	version      string
	instructions string
	config       config.Config
	logger       *logging.Logger
	metrics      *metrics.Recorder
	lookup       domain.GeoLookup
	tools        []domain.ToolDefinition
}

// NewServerBuilder creates a new server builder with default values
func NewServerBuilder() *ServerBuilder {
	return &ServerBuilder{
		name:         DefaultName,
		version:      DefaultVersion,
		instructions: DefaultInstructions,
		config:       config.Default(),
	}
}

// WithName sets the server name
func (b *ServerBuilder) WithName(name string) *ServerBuilder {
	b.name = name
	return b
}

// WithVersion sets the server version
func (b *ServerBuilder) WithVersion(version string) *ServerBuilder {
	b.version = version
	return b
}

// WithInstructions sets the server instructions
func (b *ServerBuilder) WithInstructions(instructions string) *ServerBuilder {
	b.instructions = instructions
	return b
}

// WithConfig sets the runtime configuration
func (b *ServerBuilder) WithConfig(cfg config.Config) *ServerBuilder {
	b.config = cfg
	return b
}

// WithLogger sets the logger
func (b *ServerBuilder) WithLogger(logger *logging.Logger) *ServerBuilder {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics recorder
func (b *ServerBuilder) WithMetrics(m *metrics.Recorder) *ServerBuilder {
	b.metrics = m
	return b
}

// WithGeoLookup replaces the upstream GeoIP client behind query-ip
func (b *ServerBuilder) WithGeoLookup(lookup domain.GeoLookup) *ServerBuilder {
	b.lookup = lookup
	return b
}

// AddTool registers an additional tool next to query-ip
func (b *ServerBuilder) AddTool(tool domain.ToolDefinition) *ServerBuilder {
	b.tools = append(b.tools, tool)
	return b
}

// Components is everything Build wires together.
type Components struct {
	Registry   domain.ToolRegistry
	Directory  domain.SessionDirectory
	Service    *usecases.ServerService
	Dispatcher *usecases.Dispatcher
	SSEServer  *server.SSEServer
	Metrics    *metrics.Recorder
	Server     *rest.MCPServer
}

// Build wires the registry, session directory, dispatcher, SSE transport and
// HTTP server.
func (b *ServerBuilder) Build() (*Components, error) {
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logging.Default()
	}
	rec := b.metrics
	if rec == nil {
		rec = metrics.NewRecorder()
	}
	lookup := b.lookup
	if lookup == nil {
		lookup = geolocation.NewClient(b.config.GeoIPBaseURL, b.config.GeoIPTimeout,
			geolocation.WithUserAgent(b.config.GeoIPUserAgent),
			geolocation.WithLogger(logger.Named("geoip")))
	}

	registry := server.NewInMemoryToolRegistry()
	for _, tool := range append([]domain.ToolDefinition{geolocation.NewQueryIPTool(lookup)}, b.tools...) {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	directory := server.NewSessionDirectory()
	service := usecases.NewServerService(usecases.ServerConfig{
		Name:            b.name,
		Version:         b.version,
		Instructions:    b.instructions,
		Registry:        registry,
		HandlerTimeout:  b.config.HandlerTimeout,
		StrictArguments: b.config.StrictArguments,
		Logger:          logger.Named("service"),
		Metrics:         rec,
	})
	dispatcher := usecases.NewDispatcher(service, directory,
		usecases.WithDispatcherLogger(logger.Named("dispatcher")),
		usecases.WithDispatcherMetrics(rec),
	)
	sseServer := server.NewSSEServer(directory, dispatcher,
		server.WithBaseURL(b.config.BaseURL),
		server.WithSessionQueueSize(b.config.SessionQueueSize),
		server.WithKeepAliveInterval(b.config.KeepAliveInterval),
		server.WithLogger(logger.Named("sse")),
		server.WithMetrics(rec),
	)
	mcpServer := rest.NewMCPServer(rest.Options{
		Addr:           fmt.Sprintf(":%d", b.config.Port),
		AllowedOrigins: b.config.AllowedOrigins(),
		Service:        service,
		Dispatcher:     dispatcher,
		SSEServer:      sseServer,
		Metrics:        rec,
		Logger:         logger.Named("http"),
	})

	return &Components{
		Registry:   registry,
		Directory:  directory,
		Service:    service,
		Dispatcher: dispatcher,
		SSEServer:  sseServer,
		Metrics:    rec,
		Server:     mcpServer,
	}, nil
}
