package rpc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voiceci/voiceci/pkg/config"
	"github.com/voiceci/voiceci/pkg/rpc"
)

func TestAuthenticatorResolveRejectsMalformedHeader(t *testing.T) {
	a := rpc.NewAuthenticator(map[string]config.APIKeyConfig{"tok": {TenantID: "acme", KeyID: "key-1"}})
	_, err := a.Resolve("not-bearer")
	assert.Error(t, err)
}

func TestAuthenticatorResolveRejectsUnknownToken(t *testing.T) {
	a := rpc.NewAuthenticator(map[string]config.APIKeyConfig{"tok": {TenantID: "acme", KeyID: "key-1"}})
	_, err := a.Resolve("Bearer wrong")
	assert.Error(t, err)
}

func TestAuthenticatorResolveReturnsOwnerForKnownToken(t *testing.T) {
	a := rpc.NewAuthenticator(map[string]config.APIKeyConfig{"tok": {TenantID: "acme", KeyID: "key-1"}})
	owner, err := a.Resolve("Bearer tok")
	assert.NoError(t, err)
	assert.Equal(t, "acme", owner.TenantID)
	assert.Equal(t, "key-1", owner.KeyID)
}
