package shared

import (
	"encoding/json"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
)

// MCP method names
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
)

// ServerInfo identifies the server (or client) implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability advertises tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// Capabilities represents the server's capabilities
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeParams represents parameters for the initialize method
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ClientInfo      ServerInfo `json:"clientInfo"`
}

// InitializeResult represents the result of the initialize method
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
	Instructions    string       `json:"instructions,omitempty"`
}

// ListToolsResult represents the result of the tools/list method
type ListToolsResult struct {
	Tools []domain.ToolMetadata `json:"tools"`
}

// CallToolParams represents parameters for the tools/call method
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents the result of the tools/call method
type CallToolResult struct {
	Content []domain.ContentBlock `json:"content"`
	IsError bool                  `json:"isError,omitempty"`
}

// NewCallToolResult maps a tagged invocation result onto the MCP result
// shape. Failures become a single text block with isError set.
func NewCallToolResult(result *domain.ToolInvocationResult) CallToolResult {
	if result.IsSuccess() {
		content := result.Content
		if content == nil {
			content = []domain.ContentBlock{}
		}
		return CallToolResult{Content: content}
	}
	msg := "tool invocation failed"
	if result.Error != nil {
		msg = result.Error.Message
	}
	return CallToolResult{
		Content: []domain.ContentBlock{domain.TextContent(msg)},
		IsError: true,
	}
}
