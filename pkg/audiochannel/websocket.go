package audiochannel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/voiceci/voiceci/pkg/codec"
	"github.com/voiceci/voiceci/pkg/store"
)

// WebSocketChannel is the raw-websocket variant (§4.3): binary frames carry
// 24kHz mono PCM, text frames carry JSON tool-call events.
type WebSocketChannel struct {
	*base
	url  string
	conn *websocket.Conn
}

// NewWebSocketChannel builds an unconnected channel dialing url.
func NewWebSocketChannel(url string) *WebSocketChannel {
	return &WebSocketChannel{base: newBase(), url: url}
}

func (c *WebSocketChannel) Connect(ctx context.Context) error {
	if c.isConnected() {
		return ErrAlreadyConnected
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("audiochannel: websocket dial: %w", err)
	}
	c.conn = conn
	c.markConnected()
	go c.readLoop(ctx)
	return nil
}

func (c *WebSocketChannel) readLoop(ctx context.Context) {
	defer c.Disconnect()
	for {
		kind, data, err := c.conn.Read(ctx)
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			return
		}
		switch kind {
		case websocket.MessageBinary:
			c.emit(Event{Kind: EventAudio, PCM: codec.BytesToPCMLE(data)})
		case websocket.MessageText:
			c.handleTextFrame(data)
		}
	}
}

type toolCallFrame struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Result     any            `json:"result,omitempty"`
	Successful *bool          `json:"successful,omitempty"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
}

func (c *WebSocketChannel) handleTextFrame(data []byte) {
	var frame toolCallFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "tool_call" {
		return
	}
	c.recordToolCall(store.ObservedToolCall{
		Name:       frame.Name,
		Arguments:  frame.Arguments,
		Result:     frame.Result,
		Successful: frame.Successful,
		LatencyMs:  frame.DurationMs,
	})
}

func (c *WebSocketChannel) SendAudio(pcm []int16) error {
	if err := c.sendGuard(); err != nil {
		return err
	}
	return c.conn.Write(context.Background(), websocket.MessageBinary, codec.PCMBytesLE(pcm))
}

func (c *WebSocketChannel) Disconnect() error {
	if !c.closeOnce() {
		return nil
	}
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (c *WebSocketChannel) ToolCallEndpointURL() string { return "" }
