package audiochannel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceci/voiceci/pkg/store"
)

func TestSendGuardFailsFastBeforeConnect(t *testing.T) {
	b := newBase()
	assert.ErrorIs(t, b.sendGuard(), ErrNotConnected)
}

func TestSendGuardSucceedsOnceConnected(t *testing.T) {
	b := newBase()
	b.markConnected()
	require.NoError(t, b.sendGuard())
}

func TestCloseOnceIsIdempotent(t *testing.T) {
	b := newBase()
	b.markConnected()
	assert.True(t, b.closeOnce(), "first close reports success")
	assert.False(t, b.closeOnce(), "second close is a no-op")
	assert.False(t, b.isConnected())
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	b := newBase()
	b.markConnected()
	b.closeOnce()

	// emit must not panic on a closed channel and must not block.
	done := make(chan struct{})
	go func() {
		b.emit(Event{Kind: EventAudio})
		close(done)
	}()
	<-done
}

func TestRecordToolCallStampsTimestampWhenAbsent(t *testing.T) {
	b := newBase()
	b.markConnected()
	b.recordToolCall(store.ObservedToolCall{Name: "lookup_order"})

	calls := b.callData()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].TimestampMs)
}
