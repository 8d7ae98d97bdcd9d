package boxkernel

import (
	"errors"
	"fmt"
)

// Error represents a structured kernel error with enough context to
// trace a failure back to the event and deck that produced it.
type Error struct {
	Op     string    // operation that failed (e.g. "ROUTE", "FILE_QUERY")
	EventID uint64    // event id involved, 0 if not applicable
	Deck   string    // deck name involved, "" if not applicable
	Code   ErrorCode // high-level error category
	Msg    string    // human-readable message
	Inner  error     // wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Deck != "" {
		parts = append(parts, fmt.Sprintf("deck=%s", e.Deck))
	}
	if e.EventID != 0 {
		parts = append(parts, fmt.Sprintf("event=%d", e.EventID))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("boxkernel: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("boxkernel: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports comparing against the bare ErrorCode sentinels below.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if code, ok := target.(ErrorCode); ok {
		return e.Code == code
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is the stable, numeric-flavored error taxonomy events and
// responses carry across the kernel boundary.
type ErrorCode string

func (c ErrorCode) Error() string { return string(c) }

const (
	// ErrBackpressure: a ring or deck FIFO was full.
	ErrBackpressure ErrorCode = "backpressure"
	// ErrInvalidPayload: an event's payload failed to decode.
	ErrInvalidPayload ErrorCode = "invalid payload"
	// ErrUnknownType: no deck is registered for an event's type/prefix.
	ErrUnknownType ErrorCode = "unknown event type"
	// ErrOverloaded: a deck's FIFO stayed full past the retry budget.
	ErrOverloaded ErrorCode = "overloaded"
	// ErrHandlerFailure: a deck's handler returned or panicked with an error.
	ErrHandlerFailure ErrorCode = "handler failure"
	// ErrTimeout: an event's deadline elapsed before it was routed.
	ErrTimeout ErrorCode = "timeout"
	// ErrNotFound: a referenced inode, fd, or pid does not exist.
	ErrNotFound ErrorCode = "not found"
	// ErrExhausted: a resource table (inodes, blocks, pids) is full.
	ErrExhausted ErrorCode = "exhausted"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewEventError creates a new error tied to a specific event.
func NewEventError(op string, eventID uint64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, EventID: eventID, Code: code, Msg: msg}
}

// NewDeckError creates a new error tied to a specific deck and event.
func NewDeckError(op, deck string, eventID uint64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Deck: deck, EventID: eventID, Code: code, Msg: msg}
}

// WrapError wraps an existing error with kernel context, inheriting
// its ErrorCode if it is already a structured *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return &Error{Op: op, Deck: e.Deck, EventID: e.EventID, Code: e.Code, Msg: e.Msg, Inner: e.Inner}
	}
	return &Error{Op: op, Code: ErrHandlerFailure, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) a structured Error with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
