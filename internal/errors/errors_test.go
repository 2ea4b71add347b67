package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestAppError(t *testing.T) {
	err := New("TEST_001", "test error")

	if err.Code != "TEST_001" {
		t.Errorf("expected code TEST_001, got %s", err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("expected message 'test error', got %s", err.Message)
	}
}

func TestAppErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := New("TEST_001", "test error", cause)

	if err.Cause != cause {
		t.Errorf("expected cause to be set")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected error string to contain cause, got %s", err.Error())
	}
	if err.Unwrap() != cause {
		t.Errorf("expected unwrap to return cause")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	cause := fmt.Errorf("rename: permission denied")
	err := fmt.Errorf("validate doc_1: %w", ErrFileMove.WithCause(cause))

	if !Is(err, ErrFileMove) {
		t.Error("expected wrapped file-move error to match sentinel")
	}
	if Is(err, ErrLockWrite) {
		t.Error("expected file-move error not to match lock sentinel")
	}
	if !Is(err, cause) {
		t.Error("expected chain to include the original cause")
	}
}

func TestIsAppError(t *testing.T) {
	if !IsAppError(fmt.Errorf("wrapped: %w", ErrScanInProgress)) {
		t.Error("expected IsAppError to see through wrapping")
	}
	if IsAppError(fmt.Errorf("standard error")) {
		t.Error("expected IsAppError to return false for standard error")
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(ErrWatchDirMissing) != "CONFIG_002" {
		t.Errorf("unexpected code %s", GetCode(ErrWatchDirMissing))
	}
	if GetCode(fmt.Errorf("standard error")) != "UNKNOWN" {
		t.Error("expected UNKNOWN for standard error")
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(cause, "WRAP_001", "wrapped error")

	if err.Code != "WRAP_001" {
		t.Errorf("expected code WRAP_001, got %s", err.Code)
	}
	if err.Cause != cause {
		t.Error("expected cause to be set")
	}
}
