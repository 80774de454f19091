package server

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
)

// InMemoryToolRegistry implements domain.ToolRegistry. Tools are registered
// at startup and resolved concurrently afterwards.
type InMemoryToolRegistry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*domain.ToolDefinition
}

// NewInMemoryToolRegistry creates an empty registry.
func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{
		tools: make(map[string]*domain.ToolDefinition),
	}
}

// Register adds a tool definition.
func (r *InMemoryToolRegistry) Register(definition domain.ToolDefinition) error {
	if definition.Name == "" {
		return errors.New("tool name must not be empty")
	}
	if definition.Handler == nil {
		return errors.Errorf("tool %s has no handler", definition.Name)
	}
	if definition.InputSchema.Type == "" {
		definition.InputSchema.Type = "object"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[definition.Name]; exists {
		return domain.NewDuplicateToolError(definition.Name)
	}
	def := definition
	r.tools[def.Name] = &def
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister registers every definition and panics on the first failure.
// Registration errors are programming mistakes caught at startup.
func (r *InMemoryToolRegistry) MustRegister(definitions ...domain.ToolDefinition) *InMemoryToolRegistry {
	for _, d := range definitions {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Resolve returns the tool registered under name.
func (r *InMemoryToolRegistry) Resolve(name string) (*domain.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.tools[name]; ok {
		return def, nil
	}
	return nil, domain.NewToolNotFoundError(name)
}

// Describe lists tool metadata in registration order.
func (r *InMemoryToolRegistry) Describe() []domain.ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolMetadata, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Metadata())
	}
	return out
}
