// Package probes implements VoiceCI's nine black-box audio probes (C5),
// each a bounded-duration routine against a freshly connected
// pkg/audiochannel.Channel, grounded on the turn-draining pattern used by
// pkg/conversation's engine loop (§4.5).
package probes

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/vad"
	"github.com/voiceci/voiceci/pkg/voiceio"
)

// Thresholds is the resolved, overridable configuration for one probe
// invocation, sourced from TestSpec.Thresholds's nested map (§6).
type Thresholds map[string]any

// Int returns key as an int, falling back to def.
func (t Thresholds) Int(key string, def int) int {
	if v, ok := t[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

// Float returns key as a float64, falling back to def.
func (t Thresholds) Float(key string, def float64) float64 {
	if v, ok := t[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// Deps bundles the collaborators every probe needs.
type Deps struct {
	Synth voiceio.Synthesizer
	STT   voiceio.Transcriber
}

// Probe runs one audio test to completion against a connected channel.
type Probe func(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult

// Registry maps a TestSpec audio-test name to its probe implementation.
var Registry = map[string]Probe{
	"echo":                   Echo,
	"ttfb":                   TTFB,
	"barge_in":               BargeIn,
	"silence_handling":       SilenceHandling,
	"connection_stability":   ConnectionStability,
	"response_completeness":  ResponseCompleteness,
	"noise_resilience":       NoiseResilience,
	"endpointing":            Endpointing,
	"audio_quality":          AudioQuality,
}

func result(name string, start time.Time, pass bool, metrics map[string]any, errText string) store.TestResult {
	status := store.RunFail
	if pass {
		status = store.RunPass
	}
	return store.TestResult{
		Kind: store.ResultAudio, Name: name, Metrics: metrics,
		Status: status, DurationMs: time.Since(start).Milliseconds(), ErrorText: errText,
	}
}

// drainUntilEndOfTurn collects channel audio into a single buffer until the
// VAD reports end_of_turn or the deadline passes, returning the buffer and
// the elapsed time to the first audio chunk in which the VAD detects
// speech (or -1 if it never did).
func drainUntilEndOfTurn(ctx context.Context, ch audiochannel.Channel, v *vad.VAD, timeout time.Duration) ([]int16, time.Duration, error) {
	deadline := time.After(timeout)
	start := time.Now()
	var buf []int16
	firstChunk := time.Duration(-1)

	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return buf, firstChunk, nil
			}
			switch ev.Kind {
			case audiochannel.EventAudio:
				buf = append(buf, ev.PCM...)
				state, err := v.Process(ev.PCM)
				if err != nil {
					return buf, firstChunk, err
				}
				if firstChunk < 0 && state != vad.StateSilence {
					firstChunk = time.Since(start)
				}
				if state == vad.StateEndOfTurn {
					return buf, firstChunk, nil
				}
			case audiochannel.EventDisconnected:
				return buf, firstChunk, nil
			}
		case <-deadline:
			return buf, firstChunk, nil
		case <-ctx.Done():
			return buf, firstChunk, ctx.Err()
		}
	}
}

func sendText(ctx context.Context, ch audiochannel.Channel, synth voiceio.Synthesizer, text string) error {
	pcm, err := synth.Synthesize(ctx, text, "")
	if err != nil {
		return err
	}
	return ch.SendAudio(pcm)
}

func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

var sentenceEnders = []string{".", "!", "?"}

func endsWithSentencePunctuation(text string) bool {
	text = strings.TrimSpace(text)
	for _, e := range sentenceEnders {
		if strings.HasSuffix(text, e) {
			return true
		}
	}
	return false
}
