package session

import (
	"errors"
	"fmt"
)

// Kind classifies an API failure.
type Kind int

const (
	// KindNetworkUnreachable means no response was received at all.
	KindNetworkUnreachable Kind = iota + 1
	// KindAuthRequired means no token is present locally; the request
	// never reached the network.
	KindAuthRequired
	// KindAuthRejected means the server refused the token. The session
	// is torn down before this is surfaced.
	KindAuthRejected
	// KindForbidden means the server responded forbidden; the session
	// is retained.
	KindForbidden
	// KindValidation is a 4xx with a message, surfaced verbatim.
	KindValidation
	// KindServerError is a 5xx or unclassified failure.
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindAuthRequired:
		return "auth_required"
	case KindAuthRejected:
		return "auth_rejected"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Error is the structured failure every session operation returns.
type Error struct {
	Kind    Kind
	Message string
	Status  int // HTTP status, 0 when none was received

	// NeedsActivation is set on login failures caused by an
	// unactivated account, so callers can offer a resend action.
	NeedsActivation bool

	Err error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or 0 if err is not a session Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsKind reports whether err is a session Error of the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// NeedsActivation reports whether err is a login failure for an
// account that has not been activated yet.
func NeedsActivation(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.NeedsActivation
}

func networkError(err error) *Error {
	return &Error{
		Kind:    KindNetworkUnreachable,
		Message: "could not reach the backend",
		Err:     err,
	}
}

// classify maps an HTTP status plus server message to a session Error.
// 401 is classified as auth rejection only for authorized calls; public
// endpoints (login itself) treat it as validation.
func classify(status int, message string, authorized bool) *Error {
	if message == "" {
		message = fmt.Sprintf("server returned %d", status)
	}
	switch {
	case status == 401 && authorized:
		return &Error{Kind: KindAuthRejected, Message: message, Status: status}
	case status == 403:
		return &Error{Kind: KindForbidden, Message: message, Status: status}
	case status >= 400 && status < 500:
		return &Error{Kind: KindValidation, Message: message, Status: status}
	default:
		return &Error{Kind: KindServerError, Message: message, Status: status}
	}
}
