package probes

import (
	"context"
	"time"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/vad"
)

type ttfbPromptTier struct {
	tier   string
	prompt string
}

// ttfbPrompts covers the three tiers named in §4.5: simple, complex, and
// tool-triggering.
var ttfbPrompts = []ttfbPromptTier{
	{"simple", "What's your name?"},
	{"simple", "Are you there?"},
	{"complex", "Can you walk me through the full process of resetting my password, including what to do if I don't receive the confirmation email?"},
	{"complex", "Compare the pros and cons of your two most expensive plans in detail."},
	{"tool_triggering", "Can you look up the status of order number 48213?"},
	{"tool_triggering", "Please check my account balance."},
}

// TTFB measures time-to-first-VAD-detected-speech across simple, complex,
// and tool-triggering prompt tiers, passing iff the overall p95 and the
// complex-tier p95 are within threshold (default 3000ms, §4.5).
func TTFB(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult {
	start := time.Now()
	overallThreshold := time.Duration(th.Int("p95_threshold_ms", 3000)) * time.Millisecond
	complexThreshold := time.Duration(th.Int("complex_p95_threshold_ms", th.Int("p95_threshold_ms", 3000))) * time.Millisecond

	var overall, complex, ttfw []time.Duration

	for _, p := range ttfbPrompts {
		if err := sendText(ctx, ch, deps.Synth, p.prompt); err != nil {
			return result("ttfb", start, false, nil, err.Error())
		}

		v := vad.New()
		audio, firstChunk, err := drainUntilEndOfTurn(ctx, ch, v, 15*time.Second)
		if err != nil {
			return result("ttfb", start, false, nil, err.Error())
		}
		if firstChunk < 0 {
			firstChunk = 15 * time.Second // no response counts as a timeout-sized latency
			ttfw = append(ttfw, firstChunk)
		} else {
			ttfw = append(ttfw, firstChunk+timeToFirstWord(ctx, deps, audio))
		}

		overall = append(overall, firstChunk)
		if p.tier == "complex" {
			complex = append(complex, firstChunk)
		}
	}

	overallP95 := percentile(overall, 0.95)
	complexP95 := percentile(complex, 0.95)
	ttfwP95 := percentile(ttfw, 0.95)
	pass := overallP95 <= overallThreshold && complexP95 <= complexThreshold

	return result("ttfb", start, pass, map[string]any{
		"overall_p95_ms": overallP95.Milliseconds(),
		"complex_p95_ms": complexP95.Milliseconds(),
		"ttfw_p95_ms":    ttfwP95.Milliseconds(),
	}, "")
}

// timeToFirstWord measures how long after VAD speech onset it takes
// STT to surface an actual word, the §4.5 TTFW sub-metric: first audio can
// be a breath or filler noise the VAD gates on before any word is spoken.
// A failed or wordless transcription reports zero additional latency,
// leaving ttfw equal to ttfb for that prompt.
func timeToFirstWord(ctx context.Context, deps Deps, audio []int16) time.Duration {
	sttStart := time.Now()
	transcript, err := deps.STT.Transcribe(ctx, audio)
	if err != nil || transcript.Text == "" {
		return 0
	}
	return time.Since(sttStart)
}
