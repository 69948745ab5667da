package probes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/probes"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/voiceio"
)

// fakeChannel is a minimal in-memory audiochannel.Channel for probe tests:
// every SendAudio triggers one canned agent reply followed by an
// end-of-turn-shaped silence tail.
type fakeChannel struct {
	connected bool
	events    chan audiochannel.Event
	reply     []int16
}

func newFakeChannel(reply []int16) *fakeChannel {
	return &fakeChannel{connected: true, events: make(chan audiochannel.Event, 256), reply: reply}
}

func (f *fakeChannel) Connect(ctx context.Context) error { return nil }

func (f *fakeChannel) SendAudio(pcm []int16) error {
	if !f.connected {
		return audiochannel.ErrNotConnected
	}
	go func() {
		f.events <- audiochannel.Event{Kind: audiochannel.EventAudio, PCM: f.reply}
		// enough silence to trip the VAD's default end_of_turn threshold.
		silence := make([]int16, 24000*2)
		f.events <- audiochannel.Event{Kind: audiochannel.EventAudio, PCM: silence}
	}()
	return nil
}

func (f *fakeChannel) Events() <-chan audiochannel.Event { return f.events }
func (f *fakeChannel) Connected() bool                   { return f.connected }
func (f *fakeChannel) Disconnect() error                 { f.connected = false; return nil }
func (f *fakeChannel) GetCallData() []store.ObservedToolCall { return nil }
func (f *fakeChannel) ToolCallEndpointURL() string       { return "" }

type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, text, voice string) ([]int16, error) {
	return voiceio.WhiteNoise(2400, 1, 3000), nil
}

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(ctx context.Context, pcm []int16) (voiceio.TranscriptResult, error) {
	return voiceio.TranscriptResult{Text: f.text, Confidence: 0.95}, nil
}

func speechLikeReply() []int16 {
	return voiceio.WhiteNoise(24000, 1, 16000) // well above the VAD's energy threshold
}

func TestEchoPassesWithNoUnpromptedSpeech(t *testing.T) {
	ch := newFakeChannel(make([]int16, 2400)) // silent reply: agent never speaks unprompted
	deps := probes.Deps{Synth: fakeSynth{}, STT: fakeTranscriber{}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res := probes.Echo(ctx, ch, deps, probes.Thresholds{})
	assert.Equal(t, store.RunPass, res.Status)
}

func TestResponseCompletenessFailsOnShortUnpunctuatedReply(t *testing.T) {
	ch := newFakeChannel(speechLikeReply())
	deps := probes.Deps{Synth: fakeSynth{}, STT: fakeTranscriber{text: "ok"}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res := probes.ResponseCompleteness(ctx, ch, deps, probes.Thresholds{})
	assert.Equal(t, store.RunFail, res.Status)
}

func TestResponseCompletenessPassesOnFullSentence(t *testing.T) {
	ch := newFakeChannel(speechLikeReply())
	deps := probes.Deps{
		Synth: fakeSynth{},
		STT:   fakeTranscriber{text: "We offer a thirty day return policy for all unused items."},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res := probes.ResponseCompleteness(ctx, ch, deps, probes.Thresholds{})
	require.Equal(t, store.RunPass, res.Status)
}

func TestConnectionStabilityCountsAllTurns(t *testing.T) {
	ch := newFakeChannel(speechLikeReply())
	deps := probes.Deps{Synth: fakeSynth{}, STT: fakeTranscriber{}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := probes.ConnectionStability(ctx, ch, deps, probes.Thresholds{})
	assert.Equal(t, store.RunPass, res.Status)
	assert.Equal(t, 5, res.Metrics["turns_completed"])
}

func TestThresholdsIntFallsBackToDefault(t *testing.T) {
	th := probes.Thresholds{"loop_threshold": float64(3)}
	assert.Equal(t, 3, th.Int("loop_threshold", 2))
	assert.Equal(t, 2, th.Int("missing", 2))
}
