package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for inference backend failures.
var (
	ErrBackendUnavailable   = errors.New("inference backend unavailable")
	ErrInferenceTimeout     = errors.New("inference timeout")
	ErrMalformedResult      = errors.New("inference returned malformed result")
	ErrRequestRejected      = errors.New("inference backend rejected request")
	ErrAdapterNotConfigured = errors.New("adapter mode requested but no adapter is configured")
)

// IsRetryable reports whether err is a transient failure worth another attempt
// against the same backend. Malformed output is retryable since a new sample
// may parse.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrInferenceTimeout) ||
		errors.Is(err, ErrMalformedResult)
}

// ClassifyTransportError maps transport-level errors to sentinel errors.
func ClassifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// ClassifyStatus maps a non-2xx HTTP status from a backend to a sentinel error.
func ClassifyStatus(code int, body string) error {
	switch {
	case code == 408 || code == 504:
		return fmt.Errorf("%w: status %d: %s", ErrInferenceTimeout, code, body)
	case code == 429 || code >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrBackendUnavailable, code, body)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRequestRejected, code, body)
	}
}
