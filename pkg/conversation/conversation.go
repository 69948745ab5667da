// Package conversation implements VoiceCI's turn-taking conversation
// engine (C6): a scripted-caller-LLM dialog loop with an adaptive VAD
// silence threshold, followed by a judge-LLM evaluation pipeline, grounded
// on the turn-draining pattern shared with pkg/probes (§4.6).
package conversation

import (
	"context"
	"time"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/llm"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/vad"
	"github.com/voiceci/voiceci/pkg/voiceio"
)

const (
	minSilenceThresholdMs = 600
	maxSilenceThresholdMs = 5000
	initialSilenceMs      = 700
	thresholdGrowMs       = 500
	thresholdDriftMs      = 250
	nearMissWindowMs      = 200
)

// Deps bundles the collaborators the engine needs.
type Deps struct {
	Caller llm.ChatClient
	Judge  llm.ChatClient
	Synth  voiceio.Synthesizer
	STT    voiceio.Transcriber
}

// turnStats is the batch-VAD accumulator for one agent response (§4.6
// step 3).
type turnStats struct {
	speechSegments    int
	maxInternalSilence time.Duration
	totalSpeechMs     int64
	firstChunkAt      time.Duration
}

// Engine drives one conversation scenario end to end.
type Engine struct {
	deps Deps
}

// New builds a conversation Engine.
func New(deps Deps) *Engine {
	return &Engine{deps: deps}
}

// Run drives test through ch until an LLM-judged end condition, an error,
// or max_turns, then runs the judge-LLM evaluation pipeline and returns the
// resulting TestResult (§4.6).
func (e *Engine) Run(ctx context.Context, ch audiochannel.Channel, test store.ConversationTest) store.TestResult {
	start := time.Now()
	initialSilence := initialSilenceMs
	if test.InitialSilenceMs != nil {
		initialSilence = *test.InitialSilenceMs
	}
	silenceThreshold := clamp(initialSilence, minSilenceThresholdMs, maxSilenceThresholdMs)

	var transcript []store.Turn

	for turnIdx := 0; turnIdx < test.MaxTurns; turnIdx++ {
		callerText, err := e.deps.Caller.CallerUtterance(ctx, test.CallerPrompt, transcript)
		if err != nil {
			return e.fail(start, transcript, err)
		}

		ttsStart := time.Now()
		pcm, err := e.deps.Synth.Synthesize(ctx, callerText, "")
		if err != nil {
			return e.fail(start, transcript, err)
		}
		ttsMs := time.Since(ttsStart).Milliseconds()

		if err := ch.SendAudio(pcm); err != nil {
			return e.fail(start, transcript, err)
		}
		sendCompletedAt := time.Now()

		transcript = append(transcript, store.Turn{
			Role: "caller", Text: callerText,
			TimestampMs: sendCompletedAt.Sub(start).Milliseconds(), TTSMs: &ttsMs,
		})

		audio, stats, err := e.drainTurn(ctx, ch, silenceThreshold, 30*time.Second)
		if err != nil {
			return e.fail(start, transcript, err)
		}

		sttStart := time.Now()
		transcriptResult, err := e.deps.STT.Transcribe(ctx, audio)
		if err != nil {
			return e.fail(start, transcript, err)
		}
		sttMs := time.Since(sttStart).Milliseconds()

		var ttfbMs *int64
		if stats.firstChunkAt >= 0 {
			v := stats.firstChunkAt.Milliseconds()
			ttfbMs = &v
		}
		audioDurationMs := int64(len(audio)) * 1000 / 24000

		transcript = append(transcript, store.Turn{
			Role: "agent", Text: transcriptResult.Text,
			TimestampMs:     time.Since(start).Milliseconds(),
			AudioDurationMs: &audioDurationMs,
			TTFBMs:          ttfbMs,
			STTConfidence:   &transcriptResult.Confidence,
			STTMs:           &sttMs,
		})

		silenceThreshold = nextSilenceThreshold(silenceThreshold, stats.maxInternalSilence.Milliseconds(), initialSilence)

		ended, err := e.deps.Judge.ConversationEnded(ctx, test.CallerPrompt, transcript)
		if err != nil {
			return e.fail(start, transcript, err)
		}
		if ended {
			break
		}
	}

	return e.evaluate(ctx, ch, start, test, transcript)
}

func (e *Engine) drainTurn(ctx context.Context, ch audiochannel.Channel, silenceThresholdMs int, timeoutMs time.Duration) ([]int16, turnStats, error) {
	v := vad.New(vad.WithSilenceThresholdMs(silenceThresholdMs))
	stats := turnStats{firstChunkAt: -1}
	turnStart := time.Now()
	var buf []int16

	var lastSpeechEnd time.Duration
	inSpeech := false

	deadline := time.After(timeoutMs)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return buf, stats, nil
			}
			if ev.Kind != audiochannel.EventAudio {
				continue
			}
			if stats.firstChunkAt < 0 {
				stats.firstChunkAt = time.Since(turnStart)
			}
			buf = append(buf, ev.PCM...)
			state, err := v.Process(ev.PCM)
			if err != nil {
				return buf, stats, err
			}

			now := time.Since(turnStart)
			switch state {
			case vad.StateSpeech:
				if !inSpeech {
					inSpeech = true
					stats.speechSegments++
					if lastSpeechEnd > 0 {
						gap := now - lastSpeechEnd
						if gap > stats.maxInternalSilence {
							stats.maxInternalSilence = gap
						}
					}
				}
				stats.totalSpeechMs = now.Milliseconds()
			case vad.StateSilence:
				if inSpeech {
					inSpeech = false
					lastSpeechEnd = now
				}
			case vad.StateEndOfTurn:
				if !inSpeech && lastSpeechEnd > 0 {
					if gap := now - lastSpeechEnd; gap > stats.maxInternalSilence {
						stats.maxInternalSilence = gap
					}
				}
				return buf, stats, nil
			}
		case <-deadline:
			return buf, stats, nil
		case <-ctx.Done():
			return buf, stats, ctx.Err()
		}
	}
}

// nextSilenceThreshold applies §4.6 step 5's adaptive update, clipped to
// [600, 5000]ms: grow by 500ms if the observed max internal silence was
// within 200ms of the current threshold, else drift back toward the
// initial configured value by 250ms.
func nextSilenceThreshold(current int, observedMaxSilenceMs int64, initial int) int {
	var next int
	if abs64(observedMaxSilenceMs-int64(current)) <= nearMissWindowMs {
		next = current + thresholdGrowMs
	} else if current > initial {
		next = current - thresholdDriftMs
	} else if current < initial {
		next = current + thresholdDriftMs
	} else {
		next = current
	}
	return clamp(next, minSilenceThresholdMs, maxSilenceThresholdMs)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Engine) fail(start time.Time, transcript []store.Turn, err error) store.TestResult {
	return store.TestResult{
		Kind: store.ResultConversation, Transcript: transcript,
		Status: store.RunFail, DurationMs: time.Since(start).Milliseconds(), ErrorText: err.Error(),
	}
}
