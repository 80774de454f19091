package domain

import "encoding/json"

// JSONRPCRequest is an inbound JSON-RPC request or notification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// expects no response.
func (r *JSONRPCRequest) IsNotification() bool {
	return r.ID == nil
}

// JSONRPCResponse is an outbound JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError is the error member of a JSON-RPC response.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateResponse creates a new JSONRPCResponse with the given ID and result.
func CreateResponse(jsonrpcVersion string, id interface{}, result interface{}) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Result:  result,
	}
}

// CreateErrorResponse creates a new JSONRPCResponse with the given ID and error.
func CreateErrorResponse(jsonrpcVersion string, id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
}
