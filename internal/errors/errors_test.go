package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

// TestClassificationHelpers tests the predicates the sync engine keys
// its retry policy on.
func TestClassificationHelpers(t *testing.T) {
	netErr := NewNetwork("connection refused", stderrors.New("dial tcp"))
	if !IsNetwork(netErr) {
		t.Error("Network error not classified as network")
	}
	if IsRetryableServer(netErr) {
		t.Error("Network error must not be a retryable server error")
	}

	srv503 := NewServer(503, "overloaded")
	if !IsRetryableServer(srv503) {
		t.Error("503 should be retryable")
	}
	if StatusOf(srv503) != 503 {
		t.Errorf("Expected status 503, got %d", StatusOf(srv503))
	}

	srv400 := NewServer(400, "bad request")
	if IsRetryableServer(srv400) {
		t.Error("400 must not be retryable")
	}

	if !IsValidation(NewValidation("bad payload")) {
		t.Error("Validation error not classified")
	}
	if !IsStorage(NewStorage("disk full", nil)) {
		t.Error("Storage error not classified")
	}
}

// TestClassificationSurvivesWrapping tests that predicates see through
// fmt.Errorf wrapping.
func TestClassificationSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("drain halted: %w", NewNetwork("timeout", nil))
	if !IsNetwork(wrapped) {
		t.Error("Wrapped network error not recognized")
	}
	if CodeOf(wrapped) != ErrNetwork {
		t.Errorf("Expected NETWORK_ERROR code, got %s", CodeOf(wrapped))
	}
}

// TestForeignErrors tests behavior on errors from outside the taxonomy.
func TestForeignErrors(t *testing.T) {
	plain := stderrors.New("something else")
	if CodeOf(plain) != ErrInternal {
		t.Errorf("Foreign error should map to internal, got %s", CodeOf(plain))
	}
	if IsNetwork(plain) || IsValidation(plain) || IsRetryableServer(plain) {
		t.Error("Foreign error matched a specific class")
	}
	if IsNetwork(nil) {
		t.Error("nil matched a class")
	}
}

// TestUnwrap tests that the cause chain is preserved.
func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(ErrStorage, "persist failed", cause)
	if !stderrors.Is(err, cause) {
		t.Error("Cause lost through Wrap")
	}
	if err.Error() == "" {
		t.Error("Empty error message")
	}
}
