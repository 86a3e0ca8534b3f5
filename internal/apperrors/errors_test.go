package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHTTPError_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, ErrAuth},
		{403, ErrAuth},
		{429, ErrRateLimited},
		{408, ErrTimeout},
		{504, ErrTimeout},
		{500, ErrTransport},
		{503, ErrTransport},
	}
	for _, tt := range tests {
		err := NewHTTPError("b", "call", tt.status)
		assert.True(t, errors.Is(err, tt.want), "status %d", tt.status)
	}

	opaque := NewHTTPError("b", "call", 418)
	var be *BackendError
	assert.True(t, errors.As(opaque, &be))
	assert.Equal(t, 418, be.Status)
}

func TestCountsAsFailure(t *testing.T) {
	assert.False(t, CountsAsFailure(nil))
	assert.False(t, CountsAsFailure(&BackendError{Backend: "b", Op: "call", Err: ErrValidation}))
	assert.True(t, CountsAsFailure(&BackendError{Backend: "b", Op: "call", Err: ErrRateLimited}))
	assert.True(t, CountsAsFailure(ErrTransport))
}

func TestBackendError_MessageIncludesStatusWhenSet(t *testing.T) {
	withStatus := &BackendError{Backend: "b", Op: "call", Status: 500, Err: ErrTransport}
	assert.Contains(t, withStatus.Error(), "http 500")

	without := &BackendError{Backend: "b", Op: "call", Err: ErrTimeout}
	assert.NotContains(t, without.Error(), "http")
}
