package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToWirePreservesKindAndCode(t *testing.T) {
	w := toWire(NewError(KindAuth, "bad token"))
	assert.Equal(t, "auth", w.Kind)
	assert.Equal(t, "bad token", w.Message)
	assert.Equal(t, jsonRPCCode[KindAuth], w.Code)
}

func TestToWireDefaultsUnknownErrorsToInternal(t *testing.T) {
	w := toWire(errors.New("boom"))
	assert.Equal(t, "internal", w.Kind)
}
