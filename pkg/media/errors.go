// ABOUTME: Playback error taxonomy
// ABOUTME: Classifies failures as retryable or fatal before they reach the controller
package media

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a playback failure.
type ErrorKind int

const (
	// KindNetwork is a transient transport failure; retry with backoff.
	KindNetwork ErrorKind = iota
	// KindRateLimited means the upstream asked us to slow down.
	KindRateLimited
	// KindExpired means the stream locator is stale and must be re-resolved.
	KindExpired
	// KindCorrupt is a cache or decode integrity failure; the offending
	// cache entry must be dropped and re-fetched, never served.
	KindCorrupt
	// KindDecodeFatal means the codec cannot continue on this track.
	KindDecodeFatal
	// KindUnavailable means the track is permanently unplayable.
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindExpired:
		return "expired"
	case KindCorrupt:
		return "corrupt"
	case KindDecodeFatal:
		return "decode_fatal"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Retryable reports whether a bounded retry may succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork || k == KindRateLimited
}

// PlaybackError wraps a failure with its classification. RetryAfter is only
// set for rate-limit errors that carried an upstream-suggested delay.
type PlaybackError struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *PlaybackError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Retryable reports whether the controller may retry this failure.
func (e *PlaybackError) Retryable() bool { return e.Kind.Retryable() }

// NewError wraps err with a classification.
func NewError(kind ErrorKind, err error) *PlaybackError {
	return &PlaybackError{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *PlaybackError {
	return &PlaybackError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from an error chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PlaybackError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsRetryable reports whether an error chain carries a retryable kind.
// Unclassified errors are treated as non-retryable.
func IsRetryable(err error) bool {
	if kind, ok := KindOf(err); ok {
		return kind.Retryable()
	}
	return false
}
