package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushToUnregisteredSessionIsANoOp(t *testing.T) {
	m := NewManager()
	err := m.Push("no-such-session", Event{Type: "progress", RunID: "r1"})
	assert.NoError(t, err)
}

func TestUnregisterUnknownSessionIsANoOp(t *testing.T) {
	m := NewManager()
	m.Unregister("no-such-session")
}

func TestRegisterReplacesPriorConnectionForSameSession(t *testing.T) {
	m := NewManager()
	c1 := m.Register("sess-1", nil)
	c2 := m.Register("sess-1", nil)

	m.mu.RLock()
	current := m.connections["sess-1"]
	m.mu.RUnlock()

	assert.Same(t, c2, current)
	assert.Error(t, c1.ctx.Err())
}
