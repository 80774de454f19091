package server

import "errors"

const defaultQueueSize = 100

// Common errors in the server package
var (
	// ErrResponseWriterNotFlusher is returned when the ResponseWriter doesn't support Flusher interface
	ErrResponseWriterNotFlusher = errors.New("response writer does not implement http.Flusher")

	// ErrMissingSessionID is returned when a postback does not name a session
	ErrMissingSessionID = errors.New("missing sessionId")
)
