package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type lockedErr struct{ holder string }

func (e lockedErr) Error() string   { return "locked by " + e.holder }
func (e lockedErr) ErrorCode() Code { return CodeLocked }

func TestHasCode(t *testing.T) {
	t.Run("direct error", func(t *testing.T) {
		err := New(CodeNotFound, "missing")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("wrapped by fmt keeps code", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeConflict, "stale"))
		assert.True(t, HasCode(err, CodeConflict))
		assert.Equal(t, CodeConflict, CodeOf(err))
	})

	t.Run("typed error implementing Coder", func(t *testing.T) {
		err := fmt.Errorf("checkout: %w", lockedErr{holder: "alice"})
		assert.True(t, Is(err, CodeLocked))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, CodeInternal, "commit failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "commit failed: disk full", err.Error())
}
