package audiochannel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/voiceci/voiceci/pkg/codec"
	"github.com/voiceci/voiceci/pkg/store"
)

// liveKitSourceHz is the rate the WebRTC publish track is fed at; audio is
// resampled to/from 24kHz on send/receive (§4.3).
const liveKitSourceHz = 48000

// RoomClient is the subset of a LiveKit room session WebRTCChannel needs.
// Implemented by an adapter over livekit-server-sdk-go in production; tests
// substitute a fake.
type RoomClient interface {
	Join(ctx context.Context, url, token string) error
	PublishAudio(pcm48k []int16) error
	Recv(ctx context.Context) ([]int16, error) // blocks for next remote audio frame, 48kHz
	OnDataMessage(func(topic string, payload []byte))
	Leave() error
}

// WebRTCChannel is the LiveKit variant (§4.3): joins a room with a
// server-minted JWT, publishes a 48kHz track resampled from/to 24kHz, and
// receives tool-call events on a named data-channel topic.
type WebRTCChannel struct {
	*base
	url       string
	roomName  string
	apiKey    string
	apiSecret string
	identity  string
	room      RoomClient
}

// NewWebRTCChannel builds an unconnected LiveKit channel. room is injected
// so probes/tests can substitute a fake RoomClient.
func NewWebRTCChannel(url, roomName, apiKey, apiSecret, identity string, room RoomClient) *WebRTCChannel {
	return &WebRTCChannel{
		base: newBase(), url: url, roomName: roomName,
		apiKey: apiKey, apiSecret: apiSecret, identity: identity, room: room,
	}
}

func (c *WebRTCChannel) mintToken() (string, error) {
	grant := &auth.VideoGrant{Room: c.roomName, RoomJoin: true, CanPublish: boolPtr(true), CanSubscribe: boolPtr(true)}
	token := auth.NewAccessToken(c.apiKey, c.apiSecret).
		SetIdentity(c.identity).
		SetVideoGrant(grant).
		SetValidFor(1 * time.Hour)
	return token.ToJWT()
}

func boolPtr(b bool) *bool { return &b }

func (c *WebRTCChannel) Connect(ctx context.Context) error {
	if c.isConnected() {
		return ErrAlreadyConnected
	}
	jwt, err := c.mintToken()
	if err != nil {
		return fmt.Errorf("audiochannel: mint livekit token: %w", err)
	}
	if err := c.room.Join(ctx, c.url, jwt); err != nil {
		return fmt.Errorf("audiochannel: livekit join: %w", err)
	}
	c.room.OnDataMessage(c.handleDataMessage)
	c.markConnected()
	go c.readLoop(ctx)
	return nil
}

func (c *WebRTCChannel) readLoop(ctx context.Context) {
	defer c.Disconnect()
	for {
		frame48k, err := c.room.Recv(ctx)
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			return
		}
		c.emit(Event{Kind: EventAudio, PCM: codec.Resample(frame48k, liveKitSourceHz, 24000)})
	}
}

func (c *WebRTCChannel) handleDataMessage(topic string, payload []byte) {
	if topic != "tool_call" {
		return
	}
	var frame toolCallFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return
	}
	c.recordToolCall(store.ObservedToolCall{
		Name: frame.Name, Arguments: frame.Arguments, Result: frame.Result,
		Successful: frame.Successful, LatencyMs: frame.DurationMs,
	})
}

func (c *WebRTCChannel) SendAudio(pcm []int16) error {
	if err := c.sendGuard(); err != nil {
		return err
	}
	return c.room.PublishAudio(codec.Resample(pcm, 24000, liveKitSourceHz))
}

func (c *WebRTCChannel) Disconnect() error {
	if !c.closeOnce() {
		return nil
	}
	return c.room.Leave()
}

func (c *WebRTCChannel) ToolCallEndpointURL() string { return "" }
