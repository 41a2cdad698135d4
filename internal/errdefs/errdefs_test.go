package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "plugin %s does not exist", "indexer")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.Equal(t, "plugin indexer does not exist", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUnavailable, "container: pull image", cause)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "container: pull image: connection refused", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindUnavailable, "container: remove", nil))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(fmt.Errorf("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(KindPermissionDenied, "built-in plugin cannot be removed")
	outer := fmt.Errorf("remove: %w", inner)
	assert.True(t, IsPermissionDenied(outer))
}
