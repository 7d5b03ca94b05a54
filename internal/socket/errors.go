package socket

import (
	"errors"
	"fmt"
)

type Category string

const (
	CategoryCapacity       Category = "capacity"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryMalformed      Category = "malformed"
	CategoryConsumer       Category = "consumer"
)

// Error is the structured failure sent to clients. Capacity, authentication
// and authorization failures close the connection; the rest do not.
type Error struct {
	Category Category
	// Type is the message type the error answers ("auth", "server", ...).
	Type    string
	Code    string
	Message string
	UID     string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Category, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Category, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on category and code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Category == e.Category && t.Code == e.Code
}

func (e *Error) Fatal() bool {
	switch e.Category {
	case CategoryCapacity, CategoryAuthentication, CategoryAuthorization:
		return true
	}
	return false
}

// ErrorMessage is the wire form of an Error.
type ErrorMessage struct {
	Type   string    `json:"type"`
	Status string    `json:"status"`
	Error  ErrorBody `json:"error"`
	UID    string    `json:"uid,omitempty"`
}

type ErrorBody struct {
	Category Category `json:"category"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

func (e *Error) Wire() ErrorMessage {
	return ErrorMessage{
		Type:   e.Type,
		Status: "error",
		Error:  ErrorBody{Category: e.Category, Code: e.Code, Message: e.Message},
		UID:    e.UID,
	}
}

var (
	ErrCapacityExceeded = &Error{Category: CategoryCapacity, Type: "server", Code: "CAPACITY_EXCEEDED", Message: "Maximum number of connections reached."}
	ErrShuttingDown     = &Error{Category: CategoryCapacity, Type: "server", Code: "SHUTTING_DOWN", Message: "Server is shutting down."}
	ErrAuthFailed       = &Error{Category: CategoryAuthentication, Type: "auth", Code: "AUTH_FAILED"}
	ErrAuthTimeout      = &Error{Category: CategoryAuthentication, Type: "auth", Code: "AUTH_TIMEOUT"}
	ErrUnauthorized     = &Error{Category: CategoryAuthorization, Type: "auth", Code: "AUTH_FAILED"}
	ErrInvalidPayload   = &Error{Category: CategoryMalformed, Type: "server", Code: "INVALID_PAYLOAD"}
	ErrConsumer         = &Error{Category: CategoryConsumer, Type: "server", Code: "SERVER_ERROR"}

	ErrIllegalTransition = errors.New("illegal state transition")
	ErrClientClosed      = errors.New("client closed")
	ErrSendBufferFull    = errors.New("send buffer full")
	ErrUnknownClient     = errors.New("unknown client")
)

func authFailed(msg string, cause error) *Error {
	return &Error{Category: CategoryAuthentication, Type: "auth", Code: "AUTH_FAILED", Message: msg, cause: cause}
}

func authTimeout() *Error {
	return &Error{Category: CategoryAuthentication, Type: "auth", Code: "AUTH_TIMEOUT", Message: "Authentication timed out."}
}

// Denied builds an authorization failure with the given reason.
func Denied(reason string) *Error {
	return &Error{Category: CategoryAuthorization, Type: "auth", Code: "AUTH_FAILED", Message: reason}
}

func malformed(cause error) *Error {
	return &Error{Category: CategoryMalformed, Type: "server", Code: "INVALID_PAYLOAD", Message: "Unable to parse the incoming message.", cause: cause}
}

func consumerFailure(env *Envelope, cause error) *Error {
	return &Error{Category: CategoryConsumer, Type: "server", Code: "SERVER_ERROR", Message: "An unexpected error occurred while handling the message.", UID: env.UID, cause: cause}
}

// AsError extracts the structured error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsFatal reports whether err must close the connection.
func IsFatal(err error) bool {
	e, ok := AsError(err)
	return ok && e.Fatal()
}
