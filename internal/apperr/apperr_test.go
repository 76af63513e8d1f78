package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("boom")
	err := Transientf("query failed", base)

	assert.Equal(t, Transient, KindOf(err))
	assert.True(t, Is(err, Transient))
	assert.False(t, Is(err, Permanent))
	assert.ErrorIs(t, err, base)
}

func TestKindOfPlainErrorDefaultsTransient(t *testing.T) {
	assert.Equal(t, Transient, KindOf(errors.New("unstructured")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Permanentf("send failed", errors.New("chat not found"))
	assert.Equal(t, "send failed: chat not found", err.Error())
}

func TestNewWithoutCause(t *testing.T) {
	err := New(Validation, "bad request")
	assert.Equal(t, "bad request", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", Validation.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "permanent", Permanent.String())
	assert.Equal(t, "fatal", Fatal.String())
}
