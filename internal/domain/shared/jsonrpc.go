// Package shared holds the MCP wire vocabulary: JSON-RPC codes, method names
// and the request/result shapes exchanged over the channel.
package shared

// JSONRPCVersion is the version of JSON-RPC to use
const JSONRPCVersion = "2.0"

// ProtocolVersion is the MCP protocol revision spoken over SSE.
const ProtocolVersion = "2024-11-05"

// ErrorCode represents a JSON-RPC error code
type ErrorCode int

// Standard JSON-RPC error codes
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// ErrorMessage returns a standard error message for a given error code
func ErrorMessage(code ErrorCode) string {
	switch code {
	case ParseError:
		return "Parse error"
	case InvalidRequest:
		return "Invalid request"
	case MethodNotFound:
		return "Method not found"
	case InvalidParams:
		return "Invalid params"
	case InternalError:
		return "Internal error"
	default:
		return "Unknown error"
	}
}
