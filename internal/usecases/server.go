// Package usecases implements the application logic of the geolocation tool
// server: tool invocation and message dispatch.
package usecases

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/logging"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/metrics"
)

// unknownToolLabel keeps the tool metric label bounded for names nobody registered.
const unknownToolLabel = "unknown"

// ServerService runs tools on behalf of the dispatcher.
type ServerService struct {
	name            string
	version         string
	instructions    string
	registry        domain.ToolRegistry
	handlerTimeout  time.Duration
	strictArguments bool
	logger          *logging.Logger
	metrics         *metrics.Recorder
}

// ServerConfig contains configuration for the ServerService.
type ServerConfig struct {
	Name         string
	Version      string
	Instructions string
	Registry     domain.ToolRegistry
	// HandlerTimeout bounds a single handler run. Zero means no bound.
	HandlerTimeout time.Duration
	// StrictArguments rejects arguments the tool schema does not declare.
	StrictArguments bool
	Logger          *logging.Logger
	Metrics         *metrics.Recorder
}

// NewServerService creates a new ServerService from config.
func NewServerService(config ServerConfig) *ServerService {
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &ServerService{
		name:            config.Name,
		version:         config.Version,
		instructions:    config.Instructions,
		registry:        config.Registry,
		handlerTimeout:  config.HandlerTimeout,
		strictArguments: config.StrictArguments,
		logger:          logger,
		metrics:         config.Metrics,
	}
}

// ServerInfo returns information about the server.
func (s *ServerService) ServerInfo() (string, string, string) {
	return s.name, s.version, s.instructions
}

// ListTools returns the metadata of every registered tool.
func (s *ServerService) ListTools() []domain.ToolMetadata {
	return s.registry.Describe()
}

// InvokeTool resolves, validates and runs the requested tool. It never
// returns an error: every failure is folded into a failure-tagged result.
func (s *ServerService) InvokeTool(ctx context.Context, req domain.ToolInvocationRequest) *domain.ToolInvocationResult {
	start := time.Now()

	def, err := s.registry.Resolve(req.ToolName)
	if err != nil {
		return s.finish(unknownToolLabel, start, domain.FailureFromError(err))
	}

	args, err := ValidateArguments(def.InputSchema, req.Arguments, s.strictArguments)
	if err != nil {
		return s.finish(def.Name, start, domain.FailureFromError(err))
	}

	blocks, err := s.run(ctx, def, args)
	if err != nil {
		s.logger.Warn("tool handler failed", logging.Fields{"tool": def.Name, "error": err})
		return s.finish(def.Name, start, domain.FailureFromError(err))
	}
	return s.finish(def.Name, start, domain.NewSuccessResult(blocks...))
}

func (s *ServerService) finish(tool string, start time.Time, result *domain.ToolInvocationResult) *domain.ToolInvocationResult {
	elapsed := time.Since(start)
	s.metrics.Invocation(tool, string(result.Status), elapsed)
	fields := logging.Fields{
		"tool":     tool,
		"status":   result.Status,
		"duration": elapsed,
	}
	if result.Error != nil {
		fields["error_kind"] = result.Error.Kind
	}
	s.logger.Debug("tool invocation finished", fields)
	return result
}

type handlerOutcome struct {
	blocks []domain.ContentBlock
	err    error
}

// run executes the handler on its own goroutine so that a panic is recovered
// and a handler ignoring its context still cannot outlive the timeout.
func (s *ServerService) run(ctx context.Context, def *domain.ToolDefinition, args domain.Arguments) ([]domain.ContentBlock, error) {
	if s.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.handlerTimeout)
		defer cancel()
	}

	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOutcome{err: errors.Errorf("panic in tool %s: %v", def.Name, r)}
			}
		}()
		blocks, err := def.Handler(ctx, args)
		done <- handlerOutcome{blocks: blocks, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, domain.NewHandlerFault(def.Name, out.err)
		}
		return out.blocks, nil
	case <-ctx.Done():
		return nil, domain.NewHandlerFault(def.Name, errors.Wrapf(ctx.Err(), "tool %s did not finish", def.Name))
	}
}
