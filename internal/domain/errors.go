package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every error that can surface from the core.
type ErrorKind string

// Error kinds
const (
	KindNotFound         ErrorKind = "NotFound"
	KindMalformedRequest ErrorKind = "MalformedRequest"
	KindValidation       ErrorKind = "ValidationError"
	KindSessionClosed    ErrorKind = "SessionClosed"
	KindHandlerFault     ErrorKind = "HandlerFault"
	KindDuplicateSession ErrorKind = "DuplicateSession"
	KindDuplicateTool    ErrorKind = "DuplicateTool"
)

// Error is the common shape of the typed errors below. Code is the HTTP
// status a transport should answer with when the error reaches it.
type Error struct {
	Kind    ErrorKind
	Message string
	Code    int
}

// Error returns the error message.
func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Code: code}
}

// NotFoundKind says what could not be found.
type NotFoundKind string

const (
	NotFoundSession NotFoundKind = "session"
	NotFoundTool    NotFoundKind = "tool"
)

// NotFoundError indicates an unknown session or tool.
type NotFoundError struct {
	What NotFoundKind
	Name string
	Err  *Error
}

func (e *NotFoundError) Error() string { return e.Err.Error() }

// NewSessionNotFoundError creates a NotFoundError for a session id.
func NewSessionNotFoundError(id string) *NotFoundError {
	return &NotFoundError{
		What: NotFoundSession,
		Name: id,
		Err:  newError(KindNotFound, http.StatusNotFound, "session not found: %s", id),
	}
}

// NewToolNotFoundError creates a NotFoundError for a tool name.
func NewToolNotFoundError(name string) *NotFoundError {
	return &NotFoundError{
		What: NotFoundTool,
		Name: name,
		Err:  newError(KindNotFound, http.StatusNotFound, "unknown tool: %s", name),
	}
}

// MalformedRequestError indicates an inbound payload that could not be parsed.
type MalformedRequestError struct {
	Cause error
	Err   *Error
}

func (e *MalformedRequestError) Error() string { return e.Err.Error() }

func (e *MalformedRequestError) Unwrap() error { return e.Cause }

// NewMalformedRequestError creates a MalformedRequestError.
func NewMalformedRequestError(reason string, cause error) *MalformedRequestError {
	msg := reason
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", reason, cause)
	}
	return &MalformedRequestError{
		Cause: cause,
		Err:   newError(KindMalformedRequest, http.StatusBadRequest, "malformed request: %s", msg),
	}
}

// ValidationError indicates that tool arguments do not match the schema.
type ValidationError struct {
	Path       string
	Constraint string
	Err        *Error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

// NewValidationError creates a ValidationError for the given field path.
func NewValidationError(path, constraint string) *ValidationError {
	return &ValidationError{
		Path:       path,
		Constraint: constraint,
		Err:        newError(KindValidation, http.StatusBadRequest, "invalid argument %s: %s", path, constraint),
	}
}

// SessionClosedError is returned when writing to a session that is no longer open.
type SessionClosedError struct {
	ID  string
	Err *Error
}

func (e *SessionClosedError) Error() string { return e.Err.Error() }

// NewSessionClosedError creates a SessionClosedError.
func NewSessionClosedError(id string) *SessionClosedError {
	return &SessionClosedError{
		ID:  id,
		Err: newError(KindSessionClosed, http.StatusGone, "session %s is closed", id),
	}
}

// HandlerFault wraps anything a tool handler raised: a returned error, a
// panic or an expired deadline.
type HandlerFault struct {
	Tool  string
	Cause error
	Err   *Error
}

func (e *HandlerFault) Error() string { return e.Err.Error() }

func (e *HandlerFault) Unwrap() error { return e.Cause }

// NewHandlerFault creates a HandlerFault. The message is the underlying cause.
func NewHandlerFault(tool string, cause error) *HandlerFault {
	return &HandlerFault{
		Tool:  tool,
		Cause: cause,
		Err:   newError(KindHandlerFault, http.StatusInternalServerError, "%v", cause),
	}
}

// DuplicateSessionError is a programming invariant violation in the session directory.
type DuplicateSessionError struct {
	ID  string
	Err *Error
}

func (e *DuplicateSessionError) Error() string { return e.Err.Error() }

// NewDuplicateSessionError creates a DuplicateSessionError.
func NewDuplicateSessionError(id string) *DuplicateSessionError {
	return &DuplicateSessionError{
		ID:  id,
		Err: newError(KindDuplicateSession, http.StatusConflict, "session %s already registered", id),
	}
}

// DuplicateToolError is a programming invariant violation in the tool registry.
type DuplicateToolError struct {
	Name string
	Err  *Error
}

func (e *DuplicateToolError) Error() string { return e.Err.Error() }

// NewDuplicateToolError creates a DuplicateToolError.
func NewDuplicateToolError(name string) *DuplicateToolError {
	return &DuplicateToolError{
		Name: name,
		Err:  newError(KindDuplicateTool, http.StatusConflict, "tool %s already registered", name),
	}
}

// kinded is satisfied by every typed error above.
type kinded interface {
	error
	domainError() *Error
}

func (e *NotFoundError) domainError() *Error         { return e.Err }
func (e *MalformedRequestError) domainError() *Error { return e.Err }
func (e *ValidationError) domainError() *Error       { return e.Err }
func (e *SessionClosedError) domainError() *Error    { return e.Err }
func (e *HandlerFault) domainError() *Error          { return e.Err }
func (e *DuplicateSessionError) domainError() *Error { return e.Err }
func (e *DuplicateToolError) domainError() *Error    { return e.Err }

// KindOf returns the ErrorKind of err. Errors outside the taxonomy are
// reported as handler faults.
func KindOf(err error) ErrorKind {
	var k kinded
	if errors.As(err, &k) {
		return k.domainError().Kind
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindHandlerFault
}

// StatusCode returns the HTTP status associated with err.
func StatusCode(err error) int {
	var k kinded
	if errors.As(err, &k) {
		return k.domainError().Code
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsSessionClosed reports whether err is a SessionClosedError.
func IsSessionClosed(err error) bool {
	var e *SessionClosedError
	return errors.As(err, &e)
}
