package censerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesOnKindOnly(t *testing.T) {
	a := NewError(ErrKindTimeout, "workflow deadline exceeded")
	b := NewError(ErrKindTimeout, "a different message")
	c := NewError(ErrKindBug, "unrelated")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := errors.New("dial failed")
	wrapped := WrapError(ErrKindPluginFailure, cause, "apply to plugin %q", "p1")

	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "p1")
	assert.Contains(t, wrapped.Error(), "dial failed")
}

func TestKindOfDefaultsToBugForUnclassifiedErrors(t *testing.T) {
	assert.Equal(t, ErrKindBug, KindOf(errors.New("plain error")))
	assert.Equal(t, ErrKindTimeout, KindOf(NewError(ErrKindTimeout, "x")))
}
