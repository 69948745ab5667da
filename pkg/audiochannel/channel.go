// Package audiochannel implements VoiceCI's audio-channel abstraction (C3):
// a uniform bidirectional PCM stream over seven transport variants, plus a
// side-channel for tool-call events, grounded on the teacher's websocket
// session plumbing (pkg/events) and generalized to the capability set in
// §4.3.
package audiochannel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voiceci/voiceci/pkg/store"
)

// ErrNotConnected is returned by SendAudio when the channel has not
// completed Connect, or has already disconnected (§4.3 invariant).
var ErrNotConnected = errors.New("audiochannel: not connected")

// ErrAlreadyConnected is returned by Connect on a second call.
var ErrAlreadyConnected = errors.New("audiochannel: already connected")

// EventKind discriminates the three event types a channel emits.
type EventKind string

const (
	EventAudio        EventKind = "audio"
	EventError        EventKind = "error"
	EventDisconnected EventKind = "disconnected"
)

// Event is delivered to a channel's subscriber. PCM is populated for
// EventAudio (24kHz mono int16), Err for EventError.
type Event struct {
	Kind EventKind
	PCM  []int16
	Err  error
}

// Channel is the capability set every transport variant implements (§4.3).
// All ~10 operations are exposed identically across variants; no variant
// adds operations of its own — callers program against this interface.
type Channel interface {
	// Connect dials the transport. It must be called exactly once.
	Connect(ctx context.Context) error

	// SendAudio writes one buffer of 24kHz mono PCM to the remote party.
	// Fails fast with ErrNotConnected if Connect has not completed or
	// Disconnect has already run.
	SendAudio(pcm []int16) error

	// Events returns the channel over which Event values are delivered.
	// Closed after Disconnect; no further sends occur once closed.
	Events() <-chan Event

	// Connected reports whether the channel is currently connected.
	Connected() bool

	// Disconnect tears the transport down. Idempotent: a second call is a
	// no-op.
	Disconnect() error

	// GetCallData returns every ObservedToolCall seen on the side channel
	// so far, in observation order.
	GetCallData() []store.ObservedToolCall

	// ToolCallEndpointURL returns the endpoint agents that cannot reach the
	// audio socket may POST tool-call events to, or "" if the variant
	// doesn't expose one (only the SIP channel does, §4.3). The SIP
	// channel's endpoint is a plain http:// URL; it does not serve TLS.
	ToolCallEndpointURL() string
}

// base provides the shared bookkeeping (connection state, event fan-out,
// observed tool-call accumulation) every variant embeds, mirroring how the
// teacher's session types share one struct across transport-specific
// wrappers rather than an inheritance hierarchy (§REDESIGN FLAGS).
type base struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	events    chan Event
	toolCalls []store.ObservedToolCall
	connectAt time.Time
}

func newBase() *base {
	return &base{events: make(chan Event, 64)}
}

func (b *base) markConnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	b.connectAt = time.Now()
}

func (b *base) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && !b.closed
}

// emit delivers an event if the channel hasn't been closed. Best-effort:
// drops the event rather than blocking a slow consumer indefinitely.
func (b *base) emit(ev Event) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	select {
	case b.events <- ev:
	default:
	}
}

func (b *base) recordToolCall(call store.ObservedToolCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if call.TimestampMs == nil {
		elapsed := time.Since(b.connectAt).Milliseconds()
		call.TimestampMs = &elapsed
	}
	b.toolCalls = append(b.toolCalls, call)
}

func (b *base) callData() []store.ObservedToolCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]store.ObservedToolCall, len(b.toolCalls))
	copy(out, b.toolCalls)
	return out
}

// closeOnce marks the channel disconnected and closes the event stream,
// tolerating repeated calls.
func (b *base) closeOnce() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	b.connected = false
	close(b.events)
	return true
}

func (b *base) sendGuard() error {
	if !b.isConnected() {
		return ErrNotConnected
	}
	return nil
}

// Events, Connected, and GetCallData are identical across every variant, so
// they're implemented once here and promoted by embedding.
func (b *base) Events() <-chan Event { return b.events }

func (b *base) Connected() bool { return b.isConnected() }

func (b *base) GetCallData() []store.ObservedToolCall { return b.callData() }
