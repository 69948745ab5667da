package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voiceci/voiceci/pkg/store"
)

func TestValidateRunSuitePreconditionsRejectsEmptyTestSpec(t *testing.T) {
	cfg := store.AdapterConfig{Transport: store.TransportWSVoice, AgentURL: "ws://x"}
	err := validateRunSuitePreconditions(cfg, store.TestSpec{})
	assert.Error(t, err)
}

func TestValidateRunSuitePreconditionsRequiresAgentURLForWSVoice(t *testing.T) {
	cfg := store.AdapterConfig{Transport: store.TransportWSVoice}
	spec := store.TestSpec{AudioTests: []string{"echo"}}
	err := validateRunSuitePreconditions(cfg, spec)
	assert.Error(t, err)

	var rpcErr *Error
	assert.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, KindConfigMissing, rpcErr.Kind)
}

func TestValidateRunSuitePreconditionsRequiresPlatformCredForVapi(t *testing.T) {
	cfg := store.AdapterConfig{Transport: store.TransportVapi}
	spec := store.TestSpec{AudioTests: []string{"echo"}}
	err := validateRunSuitePreconditions(cfg, spec)
	assert.Error(t, err)
}

func TestValidateRunSuitePreconditionsPassesForValidSIPConfig(t *testing.T) {
	cfg := store.AdapterConfig{Transport: store.TransportSIP, TargetPhone: "+15555550100"}
	spec := store.TestSpec{AudioTests: []string{"echo"}}
	assert.NoError(t, validateRunSuitePreconditions(cfg, spec))
}
