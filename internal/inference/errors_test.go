package inference_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/kiranshivaraju/mentorlens/internal/inference"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	assert.True(t, inference.IsRetryable(inference.ErrBackendUnavailable))
	assert.True(t, inference.IsRetryable(fmt.Errorf("pass 1: %w", inference.ErrInferenceTimeout)))
	assert.True(t, inference.IsRetryable(inference.ErrMalformedResult))
	assert.False(t, inference.IsRetryable(inference.ErrRequestRejected))
	assert.False(t, inference.IsRetryable(inference.ErrAdapterNotConfigured))
	assert.False(t, inference.IsRetryable(errors.New("disk full")))
}

func TestClassifyTransportError(t *testing.T) {
	assert.ErrorIs(t, inference.ClassifyTransportError(context.DeadlineExceeded), inference.ErrInferenceTimeout)
	assert.ErrorIs(t, inference.ClassifyTransportError(timeoutErr{}), inference.ErrInferenceTimeout)
	assert.ErrorIs(t, inference.ClassifyTransportError(&net.OpError{Op: "dial", Err: errors.New("connection refused")}),
		inference.ErrBackendUnavailable)
	assert.ErrorIs(t, inference.ClassifyTransportError(errors.New("EOF")), inference.ErrBackendUnavailable)
}

func TestClassifyStatus(t *testing.T) {
	assert.ErrorIs(t, inference.ClassifyStatus(503, "loading"), inference.ErrBackendUnavailable)
	assert.ErrorIs(t, inference.ClassifyStatus(429, ""), inference.ErrBackendUnavailable)
	assert.ErrorIs(t, inference.ClassifyStatus(504, ""), inference.ErrInferenceTimeout)
	assert.ErrorIs(t, inference.ClassifyStatus(422, "bad image"), inference.ErrRequestRejected)
}
