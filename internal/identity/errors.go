package identity

import (
	"errors"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Error kinds. The HTTP boundary maps each kind to a status code; every
// rejection carries human-readable messages for the caller.
var (
	ErrUnauthorized    = errors.New("identity: unauthorized")
	ErrForbidden       = errors.New("identity: forbidden")
	ErrNotFound        = errors.New("identity: not found")
	ErrConflict        = errors.New("identity: conflict")
	ErrInvalidInput    = errors.New("identity: invalid input")
	ErrOperationFailed = errors.New("identity: operation failed")
)

// Error is an operation failure carrying a message list alongside its kind.
type Error struct {
	kind     error
	messages []string
}

func (e *Error) Error() string {
	if len(e.messages) == 0 {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + strings.Join(e.messages, "; ")
}

func (e *Error) Unwrap() error { return e.kind }

// Messages returns the human-readable messages attached to the error.
func (e *Error) Messages() []string {
	out := make([]string, len(e.messages))
	copy(out, e.messages)
	return out
}

// Unauthorized builds a 401-kind error.
func Unauthorized(messages ...string) error {
	return &Error{kind: ErrUnauthorized, messages: messages}
}

// Forbidden builds a 403-kind error.
func Forbidden(messages ...string) error {
	return &Error{kind: ErrForbidden, messages: messages}
}

// NotFound builds a 404-kind error.
func NotFound(messages ...string) error {
	return &Error{kind: ErrNotFound, messages: messages}
}

// Conflict builds a 409-kind error.
func Conflict(messages ...string) error {
	return &Error{kind: ErrConflict, messages: messages}
}

// InvalidInput builds a 400-kind error.
func InvalidInput(messages ...string) error {
	return &Error{kind: ErrInvalidInput, messages: messages}
}

// OperationFailed wraps identity-store write failures, collecting every
// underlying reason string so the caller sees why the store rejected the
// operation.
func OperationFailed(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return &Error{kind: ErrOperationFailed}
	}
	messages := make([]string, 0, len(merr.Errors))
	for _, err := range merr.Errors {
		messages = append(messages, err.Error())
	}
	return &Error{kind: ErrOperationFailed, messages: messages}
}

// MessagesFrom extracts the message list from an identity error, falling
// back to the error text for plain errors.
func MessagesFrom(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Messages()
	}
	if err != nil {
		return []string{err.Error()}
	}
	return nil
}
