package domain

import "context"

// ToolRegistry holds the set of invocable tools.
type ToolRegistry interface {
	// Register adds a tool. It fails with DuplicateToolError if the name is taken.
	Register(definition ToolDefinition) error

	// Resolve returns the tool registered under name, or a NotFoundError.
	Resolve(name string) (*ToolDefinition, error)

	// Describe returns metadata for every tool in registration order.
	Describe() []ToolMetadata
}

// ChannelSession is one client's open streaming connection.
type ChannelSession interface {
	// ID returns the session identifier.
	ID() string

	// Endpoint returns the postback endpoint announced to the client.
	Endpoint() string

	// State reports whether the session is still open.
	State() SessionState

	// Send queues a message for the client. It returns a SessionClosedError
	// once the session is closed.
	Send(ctx context.Context, msg Message) error

	// Close ends the session. It is safe to call more than once.
	Close()

	// Done is closed when the session is closed.
	Done() <-chan struct{}
}

// SessionDirectory maps session ids to open channel sessions.
type SessionDirectory interface {
	// Put registers a session. It fails with DuplicateSessionError if the id is taken.
	Put(session ChannelSession) error

	// Get returns the open session with the given id, or a NotFoundError.
	Get(id string) (ChannelSession, error)

	// Remove deregisters the session. Removing an unknown id is a no-op.
	Remove(id string)

	// Count returns the number of registered sessions.
	Count() int

	// CloseAll closes and deregisters every session.
	CloseAll()
}

// GeoLookup resolves an optional IP address into a formatted, human readable
// description. Failures are formatted into the returned text.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) string
}
