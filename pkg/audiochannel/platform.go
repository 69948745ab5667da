package audiochannel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceci/voiceci/pkg/codec"
	"github.com/voiceci/voiceci/pkg/store"
)

// PlatformRateHz is the wire rate Vapi and ElevenLabs carry audio at
// in-band; resampled to/from 24kHz on send/receive (§4.3).
const PlatformRateHz = 16000

// inBandPlatformChannel is shared by the Vapi and ElevenLabs variants, which
// both carry audio over a platform websocket and differ only in the URL
// they dial and the bearer header they send.
type inBandPlatformChannel struct {
	*base
	dialURL    string
	authHeader string
	conn       *websocket.Conn
}

func newInBandPlatformChannel(dialURL, authHeader string) *inBandPlatformChannel {
	return &inBandPlatformChannel{base: newBase(), dialURL: dialURL, authHeader: authHeader}
}

func (c *inBandPlatformChannel) connect(ctx context.Context) error {
	if c.isConnected() {
		return ErrAlreadyConnected
	}
	header := map[string][]string{"Authorization": {c.authHeader}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.dialURL, header)
	if err != nil {
		return fmt.Errorf("audiochannel: platform dial: %w", err)
	}
	c.conn = conn
	c.markConnected()
	go c.readLoop()
	return nil
}

func (c *inBandPlatformChannel) readLoop() {
	defer c.Disconnect()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			pcm := codec.Resample(codec.BytesToPCMLE(data), PlatformRateHz, 24000)
			c.emit(Event{Kind: EventAudio, PCM: pcm})
		case websocket.TextMessage:
			c.handleTextFrame(data)
		}
	}
}

func (c *inBandPlatformChannel) handleTextFrame(data []byte) {
	var frame toolCallFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "tool_call" {
		return
	}
	c.recordToolCall(store.ObservedToolCall{
		Name: frame.Name, Arguments: frame.Arguments, Result: frame.Result,
		Successful: frame.Successful, LatencyMs: frame.DurationMs,
	})
}

func (c *inBandPlatformChannel) sendAudio(pcm []int16) error {
	if err := c.sendGuard(); err != nil {
		return err
	}
	platformPCM := codec.Resample(pcm, 24000, PlatformRateHz)
	return c.conn.WriteMessage(websocket.BinaryMessage, codec.PCMBytesLE(platformPCM))
}

func (c *inBandPlatformChannel) disconnect() error {
	if !c.closeOnce() {
		return nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return nil
}

// VapiChannel dials Vapi's call websocket directly (§4.3).
type VapiChannel struct{ *inBandPlatformChannel }

// NewVapiChannel builds an unconnected Vapi channel.
func NewVapiChannel(wsURL, apiKey string) *VapiChannel {
	return &VapiChannel{newInBandPlatformChannel(wsURL, "Bearer "+apiKey)}
}

func (c *VapiChannel) Connect(ctx context.Context) error  { return c.connect(ctx) }
func (c *VapiChannel) SendAudio(pcm []int16) error        { return c.sendAudio(pcm) }
func (c *VapiChannel) Disconnect() error                  { return c.disconnect() }
func (c *VapiChannel) ToolCallEndpointURL() string        { return "" }

// ElevenLabsChannel dials ElevenLabs' conversational websocket directly
// (§4.3).
type ElevenLabsChannel struct{ *inBandPlatformChannel }

// NewElevenLabsChannel builds an unconnected ElevenLabs channel.
func NewElevenLabsChannel(wsURL, apiKey string) *ElevenLabsChannel {
	return &ElevenLabsChannel{newInBandPlatformChannel(wsURL, "xi-api-key "+apiKey)}
}

func (c *ElevenLabsChannel) Connect(ctx context.Context) error  { return c.connect(ctx) }
func (c *ElevenLabsChannel) SendAudio(pcm []int16) error        { return c.sendAudio(pcm) }
func (c *ElevenLabsChannel) Disconnect() error                  { return c.disconnect() }
func (c *ElevenLabsChannel) ToolCallEndpointURL() string        { return "" }

// CallLookup resolves a platform's call_id and fetches its tool-call
// transcript; implemented per platform (Retell, Bland) over their REST
// APIs.
type CallLookup interface {
	// FindCallID polls list-calls filtered by from/to and start time, with
	// bounded retries, until the platform has registered the call.
	FindCallID(ctx context.Context, fromNumber, toNumber string, startedAfter time.Time) (callID string, err error)
	// FetchToolCalls returns the normalized tool-call transcript for a
	// resolved call, after a platform-specific settle delay.
	FetchToolCalls(ctx context.Context, callID string) ([]store.ObservedToolCall, error)
}

// outOfBandPlatformChannel composes a SIPChannel for audio and resolves
// tool calls via the platform's REST API after the fact (§4.3: "Retell and
// Bland carry audio out-of-band through the SIP channel").
type outOfBandPlatformChannel struct {
	sip        *SIPChannel
	lookup     CallLookup
	fromNumber string
	toNumber   string
	settleWait time.Duration

	startedAt time.Time
	callID    string
}

func (c *outOfBandPlatformChannel) connect(ctx context.Context) error {
	c.startedAt = time.Now()
	return c.sip.Connect(ctx)
}

func (c *outOfBandPlatformChannel) disconnect() error {
	return c.sip.Disconnect()
}

// resolveAndFetch resolves the platform call_id and pulls the tool-call
// transcript; called after the conversation ends since the platform only
// registers a call asynchronously (§4.3).
func (c *outOfBandPlatformChannel) resolveAndFetch(ctx context.Context) ([]store.ObservedToolCall, error) {
	callID, err := c.lookup.FindCallID(ctx, c.fromNumber, c.toNumber, c.startedAt)
	if err != nil {
		return nil, fmt.Errorf("audiochannel: resolve platform call id: %w", err)
	}
	c.callID = callID

	time.Sleep(c.settleWait)
	return c.lookup.FetchToolCalls(ctx, callID)
}

// RetellChannel composes a SIPChannel for audio and resolves Retell's
// call_id/tool-call transcript via REST (§4.3).
type RetellChannel struct{ *outOfBandPlatformChannel }

// NewRetellChannel builds an unconnected Retell channel.
func NewRetellChannel(dialer Dialer, targetPhone, listenAddr, fromNumber string, lookup CallLookup) *RetellChannel {
	return &RetellChannel{&outOfBandPlatformChannel{
		sip:        NewSIPChannel(dialer, targetPhone, "", false, listenAddr),
		lookup:     lookup,
		fromNumber: fromNumber,
		toNumber:   targetPhone,
		settleWait: 2 * time.Second,
	}}
}

func (c *RetellChannel) Connect(ctx context.Context) error                  { return c.connect(ctx) }
func (c *RetellChannel) SendAudio(pcm []int16) error                        { return c.sip.SendAudio(pcm) }
func (c *RetellChannel) Events() <-chan Event                               { return c.sip.Events() }
func (c *RetellChannel) Connected() bool                                    { return c.sip.Connected() }
func (c *RetellChannel) Disconnect() error                                  { return c.disconnect() }
func (c *RetellChannel) ToolCallEndpointURL() string                        { return c.sip.ToolCallEndpointURL() }

// GetCallData returns the SIP-observed tool calls merged with whatever the
// Retell REST lookup resolves once the call is registered; callers invoke
// ResolvePlatformTranscript after Disconnect to populate the latter.
func (c *RetellChannel) GetCallData() []store.ObservedToolCall { return c.sip.GetCallData() }

// ResolvePlatformTranscript resolves Retell's call_id and fetches its
// tool-call transcript; must be called after Disconnect.
func (c *RetellChannel) ResolvePlatformTranscript(ctx context.Context) ([]store.ObservedToolCall, error) {
	calls, err := c.resolveAndFetch(ctx)
	if err != nil {
		return nil, err
	}
	for _, call := range calls {
		c.sip.recordToolCall(call)
	}
	return calls, nil
}

// BlandChannel composes a SIPChannel for audio and resolves Bland's
// call_id/tool-call transcript via REST (§4.3).
type BlandChannel struct{ *outOfBandPlatformChannel }

// NewBlandChannel builds an unconnected Bland channel.
func NewBlandChannel(dialer Dialer, targetPhone, listenAddr, fromNumber string, lookup CallLookup) *BlandChannel {
	return &BlandChannel{&outOfBandPlatformChannel{
		sip:        NewSIPChannel(dialer, targetPhone, "", false, listenAddr),
		lookup:     lookup,
		fromNumber: fromNumber,
		toNumber:   targetPhone,
		settleWait: 2 * time.Second,
	}}
}

func (c *BlandChannel) Connect(ctx context.Context) error                  { return c.connect(ctx) }
func (c *BlandChannel) SendAudio(pcm []int16) error                        { return c.sip.SendAudio(pcm) }
func (c *BlandChannel) Events() <-chan Event                               { return c.sip.Events() }
func (c *BlandChannel) Connected() bool                                    { return c.sip.Connected() }
func (c *BlandChannel) Disconnect() error                                  { return c.disconnect() }
func (c *BlandChannel) ToolCallEndpointURL() string                        { return c.sip.ToolCallEndpointURL() }
func (c *BlandChannel) GetCallData() []store.ObservedToolCall              { return c.sip.GetCallData() }

// ResolvePlatformTranscript resolves Bland's call_id and fetches its
// tool-call transcript; must be called after Disconnect.
func (c *BlandChannel) ResolvePlatformTranscript(ctx context.Context) ([]store.ObservedToolCall, error) {
	return c.resolveAndFetch(ctx)
}
