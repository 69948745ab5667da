package rpc_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/voiceci/voiceci/pkg/rpc"
	"github.com/voiceci/voiceci/pkg/session"
	"github.com/voiceci/voiceci/pkg/store"
)

func TestConfigureAdapterRejectsMissingTransport(t *testing.T) {
	mgr := session.NewManager()
	sess := mgr.Create()

	_, err := rpc.ConfigureAdapter(sess, rpc.ConfigureAdapterInput{})
	assert.Error(t, err)
}

func TestConfigureAdapterStoresAndReturnsID(t *testing.T) {
	mgr := session.NewManager()
	sess := mgr.Create()

	out, err := rpc.ConfigureAdapter(sess, rpc.ConfigureAdapterInput{
		AdapterConfig: store.AdapterConfig{Transport: store.TransportWSVoice, AgentURL: "ws://x"},
	})
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, out.AdapterConfigID)

	cfg, ok := sess.GetAdapterConfig(out.AdapterConfigID)
	assert.True(t, ok)
	assert.Equal(t, "ws://x", cfg.AgentURL)
}

func TestGetDocReturnsKnownAndUnknown(t *testing.T) {
	_, err := rpc.GetDoc("audio_tests")
	assert.NoError(t, err)

	_, err = rpc.GetDoc("nonexistent")
	assert.Error(t, err)
}
