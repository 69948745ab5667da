package executor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/conversation"
	"github.com/voiceci/voiceci/pkg/executor"
	"github.com/voiceci/voiceci/pkg/probes"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/voiceio"
)

type fakeChannel struct {
	events chan audiochannel.Event
	reply  []int16
}

func newFakeChannel(reply []int16) *fakeChannel {
	return &fakeChannel{events: make(chan audiochannel.Event, 256), reply: reply}
}

func (f *fakeChannel) Connect(ctx context.Context) error { return nil }

func (f *fakeChannel) SendAudio(pcm []int16) error {
	go func() {
		f.events <- audiochannel.Event{Kind: audiochannel.EventAudio, PCM: f.reply}
		f.events <- audiochannel.Event{Kind: audiochannel.EventAudio, PCM: make([]int16, 24000*2)}
	}()
	return nil
}

func (f *fakeChannel) Events() <-chan audiochannel.Event     { return f.events }
func (f *fakeChannel) Connected() bool                       { return true }
func (f *fakeChannel) Disconnect() error                     { return nil }
func (f *fakeChannel) GetCallData() []store.ObservedToolCall { return nil }
func (f *fakeChannel) ToolCallEndpointURL() string           { return "" }

type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, text, voice string) ([]int16, error) {
	return voiceio.WhiteNoise(2400, 1, 3000), nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, pcm []int16) (voiceio.TranscriptResult, error) {
	return voiceio.TranscriptResult{Text: "This is a complete sentence with enough words.", Confidence: 0.9}, nil
}

type fakeJudge struct{}

func (fakeJudge) CallerUtterance(ctx context.Context, callerPrompt string, transcript []store.Turn) (string, error) {
	return "hello", nil
}
func (fakeJudge) ConversationEnded(ctx context.Context, callerPrompt string, transcript []store.Turn) (bool, error) {
	return true, nil
}
func (fakeJudge) EvalRelevancy(ctx context.Context, question string, transcript []store.Turn) (bool, error) {
	return true, nil
}
func (fakeJudge) EvalJudgment(ctx context.Context, question string, transcript []store.Turn) (bool, error) {
	return true, nil
}
func (fakeJudge) EvalToolCall(ctx context.Context, question string, transcript []store.Turn, toolCalls []store.ObservedToolCall) (bool, error) {
	return true, nil
}

func TestRunAggregatesAllTasksAndStreamsResults(t *testing.T) {
	spec := store.TestSpec{
		AudioTests:        []string{"connection_stability", "response_completeness"},
		ConversationTests: []store.ConversationTest{{CallerPrompt: "ask about pricing", MaxTurns: 2}},
	}

	var mu sync.Mutex
	var streamed []store.TestResult

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	in := executor.Input{
		TestSpec:   spec,
		NewChannel: func() (audiochannel.Channel, error) { return newFakeChannel(voiceio.WhiteNoise(24000, 1, 16000)), nil },
		Transport:  store.TransportWSVoice,
		ProbeDeps:  probes.Deps{Synth: fakeSynth{}, STT: fakeTranscriber{}},
		ConversationDeps: conversation.Deps{Caller: fakeJudge{}, Judge: fakeJudge{}, Synth: fakeSynth{}, STT: fakeTranscriber{}},
		OnTestComplete: func(r store.TestResult) {
			mu.Lock()
			streamed = append(streamed, r)
			mu.Unlock()
		},
	}

	result := executor.Run(ctx, in)

	require.Len(t, result.Results, 3)
	assert.Equal(t, 3, result.Aggregate.TotalTests)
	assert.Len(t, streamed, 3, "every task streamed via OnTestComplete")
}

func TestRunFailsFastOnUnknownAudioTest(t *testing.T) {
	spec := store.TestSpec{AudioTests: []string{"not_a_real_probe"}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := executor.Run(ctx, executor.Input{
		TestSpec:   spec,
		NewChannel: func() (audiochannel.Channel, error) { return newFakeChannel(nil), nil },
		ProbeDeps:  probes.Deps{Synth: fakeSynth{}, STT: fakeTranscriber{}},
	})

	require.Len(t, result.Results, 1)
	assert.Equal(t, store.RunFail, result.Results[0].Status)
	assert.Equal(t, store.RunFail, result.Aggregate.Status)
}
