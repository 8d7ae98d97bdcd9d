package boxkernel

import (
	"errors"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("ROUTE", ErrUnknownType, "no deck registered for prefix")

	if err.Op != "ROUTE" {
		t.Errorf("Expected Op=ROUTE, got %s", err.Op)
	}
	if err.Code != ErrUnknownType {
		t.Errorf("Expected Code=ErrUnknownType, got %s", err.Code)
	}

	expected := "boxkernel: no deck registered for prefix (op=ROUTE)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestEventError(t *testing.T) {
	err := NewEventError("SUBMIT", 99, ErrBackpressure, "event ring full")

	if err.EventID != 99 {
		t.Errorf("Expected EventID=99, got %d", err.EventID)
	}
	expected := "boxkernel: event ring full (op=SUBMIT)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestDeckError(t *testing.T) {
	err := NewDeckError("FILE_QUERY", "storage", 7, ErrNotFound, "inode missing")

	if err.Deck != "storage" {
		t.Errorf("Expected Deck=storage, got %s", err.Deck)
	}
	if err.EventID != 7 {
		t.Errorf("Expected EventID=7, got %d", err.EventID)
	}
}

func TestWrapError(t *testing.T) {
	inner := errors.New("disk full")
	err := WrapError("FILE_WRITE", inner)

	if err.Code != ErrHandlerFailure {
		t.Errorf("Expected Code=ErrHandlerFailure, got %s", err.Code)
	}
	if !errors.Is(err, inner) {
		t.Error("Expected wrapped error to satisfy errors.Is for the inner error")
	}
}

func TestWrapError_PreservesStructuredCode(t *testing.T) {
	inner := NewDeckError("FILE_QUERY", "storage", 7, ErrNotFound, "inode missing")
	wrapped := WrapError("ROUTE", inner)

	if wrapped.Code != ErrNotFound {
		t.Errorf("Expected wrapped Code=ErrNotFound, got %s", wrapped.Code)
	}
	if wrapped.Deck != "storage" {
		t.Errorf("Expected wrapped Deck=storage, got %s", wrapped.Deck)
	}
}

func TestWrapError_Nil(t *testing.T) {
	if WrapError("ROUTE", nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestErrorIsCodeSentinel(t *testing.T) {
	err := NewError("TEST", ErrTimeout, "deadline elapsed")

	if !errors.Is(err, ErrTimeout) {
		t.Error("structured error should satisfy errors.Is against its own ErrorCode")
	}
	if errors.Is(err, ErrOverloaded) {
		t.Error("structured error should not satisfy errors.Is against a different ErrorCode")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("TEST", ErrTimeout, "operation timed out")

	if !IsCode(err, ErrTimeout) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrOverloaded) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrTimeout) {
		t.Error("IsCode should return false for nil error")
	}
}
