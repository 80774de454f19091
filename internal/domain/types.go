// Package domain defines the core entities of the geolocation tool server:
// tools, invocations, results and the channel sessions results travel on.
package domain

import (
	"context"
)

// SchemaProperty describes a single accepted tool parameter.
type SchemaProperty struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// InputSchema is the declarative description of the parameters a tool accepts.
type InputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// IsRequired reports whether the named property must be present.
func (s InputSchema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Arguments maps parameter names to their (decoded JSON) values.
type Arguments map[string]interface{}

// String returns the named argument as a string, or "" when absent.
func (a Arguments) String(name string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return ""
}

// ToolHandler executes a tool with already validated arguments.
type ToolHandler func(ctx context.Context, args Arguments) ([]ContentBlock, error)

// ToolDefinition is an immutable, registered tool.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema InputSchema
	Handler     ToolHandler
}

// ToolMetadata is the listing view of a ToolDefinition.
type ToolMetadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// Metadata returns the listing view of the definition.
func (d *ToolDefinition) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema,
	}
}

// ToolInvocationRequest is an inbound request to run a tool, before validation.
type ToolInvocationRequest struct {
	ToolName  string    `json:"tool"`
	Arguments Arguments `json:"arguments,omitempty"`
}

// ContentBlock is one typed piece of a successful result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent builds a "text" content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ResultStatus tags a ToolInvocationResult.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// ResultError is the failure payload of a ToolInvocationResult.
type ResultError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ToolInvocationResult is either a success carrying content blocks or a
// failure carrying an error kind and message.
type ToolInvocationResult struct {
	Status  ResultStatus   `json:"status"`
	Content []ContentBlock `json:"content,omitempty"`
	Error   *ResultError   `json:"error,omitempty"`
}

// NewSuccessResult returns a success-tagged result.
func NewSuccessResult(blocks ...ContentBlock) *ToolInvocationResult {
	return &ToolInvocationResult{Status: ResultSuccess, Content: blocks}
}

// NewFailureResult returns a failure-tagged result.
func NewFailureResult(kind ErrorKind, message string) *ToolInvocationResult {
	return &ToolInvocationResult{
		Status: ResultFailure,
		Error:  &ResultError{Kind: kind, Message: message},
	}
}

// FailureFromError converts any error into a failure-tagged result, keeping
// the kind of typed domain errors and treating everything else as a fault.
func FailureFromError(err error) *ToolInvocationResult {
	return NewFailureResult(KindOf(err), err.Error())
}

// IsSuccess reports whether the result is success-tagged.
func (r *ToolInvocationResult) IsSuccess() bool {
	return r != nil && r.Status == ResultSuccess
}

// SessionState is the lifecycle state of a ChannelSession.
type SessionState string

const (
	SessionOpen   SessionState = "OPEN"
	SessionClosed SessionState = "CLOSED"
)

// Message is a structured message pushed down a channel. Event is the SSE
// event name; Data is marshalled to JSON unless it is already a string.
type Message struct {
	Event string
	Data  interface{}
}
