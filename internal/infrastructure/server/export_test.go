package server

import (
	"net/http/httptest"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
)

// NewTestServer starts an httptest server around a new SSE server and points
// its base URL at the test server.
func NewTestServer(directory domain.SessionDirectory, dispatcher Dispatcher, opts ...SSEOption) (*httptest.Server, *SSEServer) {
	sseServer := NewSSEServer(directory, dispatcher, opts...)
	testServer := httptest.NewServer(sseServer)
	sseServer.baseURL = testServer.URL
	return testServer, sseServer
}
