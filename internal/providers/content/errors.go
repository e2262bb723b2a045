package content

import (
	"errors"
	"fmt"
)

// Kind classifies a load failure
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindEmptyContent Kind = "empty_content"
	KindTransport    Kind = "transport_error"
)

// Sentinels for errors.Is matching
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrEmptyContent = errors.New("empty content")
	ErrTransport    = errors.New("transport error")
)

var sentinels = map[Kind]error{
	KindUnauthorized: ErrUnauthorized,
	KindForbidden:    ErrForbidden,
	KindNotFound:     ErrNotFound,
	KindEmptyContent: ErrEmptyContent,
	KindTransport:    ErrTransport,
}

// Error is a classified load failure
type Error struct {
	Kind   Kind
	ID     string // requested content identifier
	Status int    // HTTP status, 0 when no response was received
	Reason string // reason reported by the backend or transport, may be empty
	Err    error
}

func newError(kind Kind, contentID string, status int, reason string, cause error) *Error {
	return &Error{Kind: kind, ID: contentID, Status: status, Reason: reason, Err: cause}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("load %q: %s", e.ID, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Message returns the text shown to the learner
func (e *Error) Message() string {
	switch e.Kind {
	case KindUnauthorized:
		return "Please sign in to open this lecture."
	case KindForbidden:
		return "This lecture is part of a subscription plan. Subscribe or upgrade your plan to unlock it."
	case KindNotFound:
		return fmt.Sprintf("The lecture %q could not be found.", e.ID)
	case KindEmptyContent:
		return fmt.Sprintf("The lecture %q has no content yet.", e.ID)
	default:
		if e.Reason != "" {
			return "Could not reach the course server: " + e.Reason
		}
		return "Could not reach the course server. Please try again."
	}
}

// KindOf reports the Kind of a load error, or "" if err is not one
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
