package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/conversation"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/voiceio"
)

type fakeChannel struct {
	events chan audiochannel.Event
	calls  []store.ObservedToolCall
}

func newFakeChannel() *fakeChannel { return &fakeChannel{events: make(chan audiochannel.Event, 256)} }

func (f *fakeChannel) Connect(ctx context.Context) error { return nil }

func (f *fakeChannel) SendAudio(pcm []int16) error {
	go func() {
		f.events <- audiochannel.Event{Kind: audiochannel.EventAudio, PCM: voiceio.WhiteNoise(24000, 3, 16000)}
		f.events <- audiochannel.Event{Kind: audiochannel.EventAudio, PCM: make([]int16, 24000*2)}
	}()
	return nil
}

func (f *fakeChannel) Events() <-chan audiochannel.Event          { return f.events }
func (f *fakeChannel) Connected() bool                            { return true }
func (f *fakeChannel) Disconnect() error                          { return nil }
func (f *fakeChannel) GetCallData() []store.ObservedToolCall      { return f.calls }
func (f *fakeChannel) ToolCallEndpointURL() string                { return "" }

type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, text, voice string) ([]int16, error) {
	return voiceio.WhiteNoise(2400, 1, 3000), nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, pcm []int16) (voiceio.TranscriptResult, error) {
	return voiceio.TranscriptResult{Text: "Sure, I can help with that.", Confidence: 0.9}, nil
}

// fakeJudge ends the conversation after a fixed number of caller turns and
// always judges evaluations as passing.
type fakeJudge struct {
	endAfterTurns int
	turnCount     int
}

func (j *fakeJudge) CallerUtterance(ctx context.Context, callerPrompt string, transcript []store.Turn) (string, error) {
	j.turnCount++
	return "Can you help me with my order?", nil
}

func (j *fakeJudge) ConversationEnded(ctx context.Context, callerPrompt string, transcript []store.Turn) (bool, error) {
	return j.turnCount >= j.endAfterTurns, nil
}

func (j *fakeJudge) EvalRelevancy(ctx context.Context, question string, transcript []store.Turn) (bool, error) {
	return true, nil
}

func (j *fakeJudge) EvalJudgment(ctx context.Context, question string, transcript []store.Turn) (bool, error) {
	return true, nil
}

func (j *fakeJudge) EvalToolCall(ctx context.Context, question string, transcript []store.Turn, toolCalls []store.ObservedToolCall) (bool, error) {
	return true, nil
}

func TestRunStopsOnJudgedEndConditionAndPasses(t *testing.T) {
	judge := &fakeJudge{endAfterTurns: 2}
	engine := conversation.New(conversation.Deps{
		Caller: judge, Judge: judge, Synth: fakeSynth{}, STT: fakeTranscriber{},
	})

	test := store.ConversationTest{
		CallerPrompt: "a curious customer",
		MaxTurns:     10,
		BehavioralEvals: []store.EvalQuestion{{Question: "Was the agent polite?"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := engine.Run(ctx, newFakeChannel(), test)
	require.Equal(t, store.RunPass, res.Status)
	assert.Equal(t, 2, judge.turnCount)
	assert.True(t, res.EvalResults["Was the agent polite?"])
}

func TestRunFailsWhenAnEvalFails(t *testing.T) {
	judge := &fakeJudge{endAfterTurns: 1}
	failingJudge := struct{ *fakeJudge }{judge}

	engine := conversation.New(conversation.Deps{
		Caller: judge, Judge: failingJudgeWrapper{failingJudge}, Synth: fakeSynth{}, STT: fakeTranscriber{},
	})

	test := store.ConversationTest{CallerPrompt: "a curious customer", MaxTurns: 5}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := engine.Run(ctx, newFakeChannel(), test)
	assert.Equal(t, store.RunFail, res.Status)
}

type failingJudgeWrapper struct{ inner struct{ *fakeJudge } }

func (f failingJudgeWrapper) CallerUtterance(ctx context.Context, callerPrompt string, transcript []store.Turn) (string, error) {
	return f.inner.CallerUtterance(ctx, callerPrompt, transcript)
}
func (f failingJudgeWrapper) ConversationEnded(ctx context.Context, callerPrompt string, transcript []store.Turn) (bool, error) {
	return f.inner.ConversationEnded(ctx, callerPrompt, transcript)
}
func (f failingJudgeWrapper) EvalRelevancy(ctx context.Context, question string, transcript []store.Turn) (bool, error) {
	return true, nil
}
func (f failingJudgeWrapper) EvalJudgment(ctx context.Context, question string, transcript []store.Turn) (bool, error) {
	return false, nil
}
func (f failingJudgeWrapper) EvalToolCall(ctx context.Context, question string, transcript []store.Turn, toolCalls []store.ObservedToolCall) (bool, error) {
	return true, nil
}
