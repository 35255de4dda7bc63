package export

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := newError(ErrExportFailed, cause)

	assert.ErrorIs(t, err, ErrExportFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrFailedToCreateComposition)
	assert.Equal(t, "export failed: disk full", err.Error())

	wrapped := fmt.Errorf("job 42: %w", err)
	var exportErr *Error
	assert.ErrorAs(t, wrapped, &exportErr)
	assert.Equal(t, ErrExportFailed, exportErr.Kind)
}

func TestError_WithoutCause(t *testing.T) {
	err := newError(ErrExportFailed, nil)
	assert.Equal(t, "export failed", err.Error())
	assert.NoError(t, err.Unwrap())
	assert.NotErrorIs(t, err, context.Canceled)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, ""},
		{errors.New("other"), ""},
		{newError(ErrFailedToCreateComposition, nil), "FAILED_TO_CREATE_COMPOSITION"},
		{newError(ErrFailedToCreateExportSession, nil), "FAILED_TO_CREATE_EXPORT_SESSION"},
		{newError(ErrExportFailed, context.Canceled), "EXPORT_FAILED"},
		{newError(ErrInvalidAsset, nil), "INVALID_ASSET"},
		{ErrAlreadyStarted, "ALREADY_STARTED"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, KindOf(tt.err))
	}
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canTransition(StateConfiguring, StatePreparing))
	assert.True(t, canTransition(StatePreparing, StateComposing))
	assert.True(t, canTransition(StateComposing, StateEncoding))
	assert.True(t, canTransition(StateEncoding, StateCompleted))
	assert.True(t, canTransition(StateEncoding, StateFailed))

	assert.False(t, canTransition(StateConfiguring, StateEncoding))
	assert.False(t, canTransition(StateCompleted, StatePreparing))
	assert.False(t, canTransition(StateFailed, StateConfiguring))
	assert.False(t, canTransition(StateEncoding, StateComposing))

	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateEncoding.IsTerminal())
}
