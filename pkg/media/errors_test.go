// ABOUTME: Tests for the playback error taxonomy
// ABOUTME: Covers classification, wrapping, and retryability
package media

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindRetryable(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{KindNetwork, true},
		{KindRateLimited, true},
		{KindExpired, false},
		{KindCorrupt, false},
		{KindDecodeFatal, false},
		{KindUnavailable, false},
	}

	for _, tt := range tests {
		if got := tt.kind.Retryable(); got != tt.retryable {
			t.Errorf("%v.Retryable() = %v, want %v", tt.kind, got, tt.retryable)
		}
	}
}

func TestKindOfUnwrapsChain(t *testing.T) {
	inner := Errorf(KindExpired, "locator expired")
	wrapped := fmt.Errorf("fetch range 0-1024: %w", inner)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatal("expected classified error in chain")
	}
	if kind != KindExpired {
		t.Errorf("kind = %v, want %v", kind, KindExpired)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain error should not classify")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error should not be retryable")
	}
}

func TestPlaybackErrorUnwrap(t *testing.T) {
	sentinel := errors.New("connection reset")
	err := NewError(KindNetwork, sentinel)

	if !errors.Is(err, sentinel) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
	if !IsRetryable(err) {
		t.Error("network error should be retryable")
	}
}
