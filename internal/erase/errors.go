package erase

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an erase failure by who is at fault.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindTooLarge
	KindQuota
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindTooLarge:
		return "too_large"
	case KindQuota:
		return "quota"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind onto the status code the router answers with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalid, KindQuota:
		return http.StatusBadRequest
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the client-visible failure of an erase attempt. Message is safe to
// show the caller; Err keeps the cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// StatusCode returns the HTTP status for err, 500 for anything untyped.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Detail returns the message to show the caller for err.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
