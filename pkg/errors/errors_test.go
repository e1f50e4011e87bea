package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesSentinel(t *testing.T) {
	err := Clone(ErrUnknownStrategy, "strategy \"foo\" is not registered")
	assert.True(t, stderrors.Is(err, ErrUnknownStrategy))
	assert.False(t, stderrors.Is(err, ErrInvalidInput))
	assert.Equal(t, "strategy \"foo\" is not registered", err.Error())

	wrapped := fmt.Errorf("calculate: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrUnknownStrategy))
}

func TestFromErrorNormalises(t *testing.T) {
	assert.Nil(t, FromError(nil))

	plain := stderrors.New("boom")
	got := FromError(plain)
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.True(t, stderrors.Is(got, plain))

	typed := Clonef(ErrStructuralInput, "school %s has no rows", "S1")
	assert.Same(t, typed, FromError(fmt.Errorf("wrap: %w", typed)))
	assert.True(t, typed.Fatal)
}
