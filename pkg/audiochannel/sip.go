package audiochannel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/voiceci/voiceci/pkg/codec"
	"github.com/voiceci/voiceci/pkg/store"
)

const (
	sipCarrierSampleHz  = 8000
	toolCallBodyLimit   = 1 << 20 // 1 MiB, §4.3
	toolCallGracePeriod = 5 * time.Second
)

// Dialer places an outbound call and returns the carrier's call id, or
// attaches a temporary application to a rented number for inbound mode.
// Implemented over a telephony REST API (Twilio-shaped) in production.
type Dialer interface {
	DialOutbound(ctx context.Context, targetPhone, streamURL string) (callID string, err error)
	AttachInboundApp(ctx context.Context, rentedNumber, streamURL string) (callID string, err error)
}

// SIPChannel is the telephony variant (§4.3): a short-lived plain-HTTP
// listener (no TLS is configured) serving both the carrier's bidirectional
// audio socket and a fallback tool-call POST endpoint, with an outbound or
// inbound dial mode.
type SIPChannel struct {
	*base

	dialer       Dialer
	targetPhone  string
	rentedNumber string
	inbound      bool

	listenAddr string
	server     *http.Server
	listener   net.Listener

	mu         sync.Mutex
	carrierWS  *websocket.Conn
	lastAudioAt time.Time
}

// NewSIPChannel builds an unconnected SIP channel. Set rentedNumber and
// inbound=true for inbound mode; otherwise targetPhone drives an outbound
// dial.
func NewSIPChannel(dialer Dialer, targetPhone, rentedNumber string, inbound bool, listenAddr string) *SIPChannel {
	return &SIPChannel{
		base: newBase(), dialer: dialer, targetPhone: targetPhone,
		rentedNumber: rentedNumber, inbound: inbound, listenAddr: listenAddr,
	}
}

func (c *SIPChannel) Connect(ctx context.Context) error {
	if c.isConnected() {
		return ErrAlreadyConnected
	}

	ln, err := net.Listen("tcp", c.listenAddr)
	if err != nil {
		return fmt.Errorf("audiochannel: sip listen: %w", err)
	}
	c.listener = ln

	router := gin.New()
	router.GET("/stream-instructions", c.handleStreamInstructions)
	router.GET("/audio", c.handleAudioSocket)
	router.POST("/tool-calls", c.handleToolCallsPOST)
	c.server = &http.Server{Handler: router}
	go c.server.Serve(ln)

	streamURL := fmt.Sprintf("ws://%s/audio", ln.Addr().String())
	var callID string
	if c.inbound {
		callID, err = c.dialer.AttachInboundApp(ctx, c.rentedNumber, streamURL)
	} else {
		callID, err = c.dialer.DialOutbound(ctx, c.targetPhone, streamURL)
	}
	if err != nil {
		c.server.Close()
		return fmt.Errorf("audiochannel: sip dial: %w", err)
	}
	_ = callID

	c.markConnected()
	return nil
}

// sipAnswerDocumentFormat is the literal XML stream instruction the carrier
// expects as the call-answer response (§6).
const sipAnswerDocumentFormat = `<Response><Stream bidirectional="true" keepCallAlive="true" contentType="audio/x-mulaw;rate=8000">%s</Stream></Response>`

// handleStreamInstructions serves the XML document pointing the carrier at
// our bidirectional audio websocket (§4.3, §6).
func (c *SIPChannel) handleStreamInstructions(ctx *gin.Context) {
	streamURL := fmt.Sprintf("wss://%s/audio", c.listener.Addr().String())
	ctx.Data(http.StatusOK, "application/xml", []byte(fmt.Sprintf(sipAnswerDocumentFormat, streamURL)))
}

func (c *SIPChannel) handleAudioSocket(ctx *gin.Context) {
	conn, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.carrierWS = conn
	c.mu.Unlock()
	go c.readLoop(ctx.Request.Context())
}

func (c *SIPChannel) readLoop(ctx context.Context) {
	defer c.Disconnect()
	for {
		kind, data, err := c.carrierWS.Read(ctx)
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			return
		}
		if kind != websocket.MessageBinary {
			continue
		}
		c.mu.Lock()
		c.lastAudioAt = time.Now()
		c.mu.Unlock()
		pcm8k := codec.MulawToPCM(data)
		c.emit(Event{Kind: EventAudio, PCM: codec.Resample(pcm8k, sipCarrierSampleHz, 24000)})
	}
}

func (c *SIPChannel) handleToolCallsPOST(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, toolCallBodyLimit+1))
	if err != nil || len(body) > toolCallBodyLimit {
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	var single toolCallFrame
	if err := json.Unmarshal(body, &single); err == nil && single.Name != "" {
		c.recordToolCall(frameToObserved(single))
		ctx.JSON(http.StatusOK, gin.H{"accepted": 1})
		return
	}

	var batch []toolCallFrame
	if err := json.Unmarshal(body, &batch); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid tool-call payload"})
		return
	}
	for _, frame := range batch {
		c.recordToolCall(frameToObserved(frame))
	}
	ctx.JSON(http.StatusOK, gin.H{"accepted": len(batch)})
}

func frameToObserved(frame toolCallFrame) store.ObservedToolCall {
	return store.ObservedToolCall{
		Name: frame.Name, Arguments: frame.Arguments, Result: frame.Result,
		Successful: frame.Successful, LatencyMs: frame.DurationMs,
	}
}

// playAudioEvent is the outbound SIP wire format: base64-wrapped μ-law,
// distinct from the raw binary frames the carrier sends inbound (§6).
type playAudioEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func (c *SIPChannel) SendAudio(pcm []int16) error {
	if err := c.sendGuard(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.carrierWS
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	pcm8k := codec.Resample(pcm, 24000, sipCarrierSampleHz)
	mulaw := codec.PCMToMulaw(pcm8k)
	payload, err := json.Marshal(playAudioEvent{Type: "playAudio", Audio: base64.StdEncoding.EncodeToString(mulaw)})
	if err != nil {
		return fmt.Errorf("audiochannel: marshal playAudio event: %w", err)
	}
	return conn.Write(context.Background(), websocket.MessageText, payload)
}

// Disconnect tears the carrier socket down but keeps the HTTP listener
// alive for toolCallGracePeriod so late POST /tool-calls events still land
// (§4.3).
func (c *SIPChannel) Disconnect() error {
	if !c.closeOnce() {
		return nil
	}
	c.mu.Lock()
	conn := c.carrierWS
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	go func() {
		time.Sleep(toolCallGracePeriod)
		if c.server != nil {
			c.server.Close()
		}
	}()
	return nil
}

func (c *SIPChannel) ToolCallEndpointURL() string {
	if c.listener == nil {
		return ""
	}
	return fmt.Sprintf("http://%s/tool-calls", c.listener.Addr().String())
}
