package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoToken is returned when a call needs a bearer credential and the
// credential source has none. It is wrapped in an AuthError.
var ErrNoToken = errors.New("no bearer token available")

// AuthError means the credential is missing, expired, or was rejected by the
// server. It is fatal to the session: callers should clear the credential and
// send the user back to login, never retry.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: authentication failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: authentication failed", e.Op)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FieldError reports one invalid payload field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError means the payload was malformed, either locally (caught
// before the request) or server-side (400/422). Recoverable: nothing was
// mutated, the caller reports it next to the offending form.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%d field(s))", e.Message, len(e.Fields))
}

// NotFoundError means the entity vanished server-side. Callers remove it
// locally if still present and report softly.
type NotFoundError struct {
	Op string
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: not found", e.Op)
	}
	return fmt.Sprintf("%s: %s not found", e.Op, e.ID)
}

// NetworkError covers transport failures and timeouts. Transient: local
// state is untouched and the user may retry the same action.
type NetworkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out", e.Op)
	}
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a 5xx. Treated exactly like a NetworkError by callers.
type ServerError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server error %d: %s", e.Op, e.Status, e.Message)
}

// IsAuth reports whether err is fatal to the session's credential.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err is a vanished-entity failure.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTransient reports whether the same action may be retried by the user:
// network trouble, a timeout, or a 5xx.
func IsTransient(err error) bool {
	var ne *NetworkError
	var se *ServerError
	return errors.As(err, &ne) || errors.As(err, &se)
}

// classifyStatus maps a non-2xx response to the error taxonomy. message is
// the server's {error: "..."} body when present.
func classifyStatus(op, id string, status int, message string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Op: op, Err: errors.New(message)}
	case status == http.StatusNotFound:
		return &NotFoundError{Op: op, ID: id}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if message == "" {
			message = "invalid request"
		}
		return &ValidationError{Message: message}
	case status >= 500:
		return &ServerError{Op: op, Status: status, Message: message}
	default:
		return &ServerError{Op: op, Status: status, Message: message}
	}
}
