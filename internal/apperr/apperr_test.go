package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", cause, true},
		{"permanent", Permanent(CodeMalformedOutput, "bad plan", cause), false},
		{"transient", Transient(CodeUpstream, "timeout", cause), true},
		{"wrapped permanent", fmt.Errorf("generating: %w", Permanent(CodeMalformedOutput, "bad", nil)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestErrorUnwrapAndCode(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("calling model: %w", Transient(CodeUpstream, "request failed", cause))

	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, CodeUpstream))
	assert.False(t, HasCode(err, CodeMalformedOutput))
	assert.Contains(t, err.Error(), "[UPSTREAM_UNAVAILABLE] request failed: connection reset")
}
