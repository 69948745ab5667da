package probes

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/vad"
	"github.com/voiceci/voiceci/pkg/voiceio"
)

// ResponseCompleteness sends a single prompt and passes iff the
// transcribed reply's word count meets the threshold and it ends with
// sentence-terminating punctuation (§4.5).
func ResponseCompleteness(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult {
	start := time.Now()
	minWords := th.Int("min_word_count", 8)

	if err := sendText(ctx, ch, deps.Synth, "Tell me about your return policy."); err != nil {
		return result("response_completeness", start, false, nil, err.Error())
	}

	v := vad.New()
	audio, _, err := drainUntilEndOfTurn(ctx, ch, v, 15*time.Second)
	if err != nil {
		return result("response_completeness", start, false, nil, err.Error())
	}

	transcript, err := deps.STT.Transcribe(ctx, audio)
	if err != nil {
		return result("response_completeness", start, false, nil, err.Error())
	}

	wordCount := len(strings.Fields(transcript.Text))
	punctuated := endsWithSentencePunctuation(transcript.Text)
	pass := wordCount >= minWords && punctuated

	return result("response_completeness", start, pass, map[string]any{
		"word_count": wordCount, "ends_with_punctuation": punctuated,
	}, "")
}

// AudioQuality analyses accumulated agent audio for clipping ratio, energy
// consistency, and minimum duration, passing iff every metric clears its
// threshold (§4.5).
func AudioQuality(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult {
	start := time.Now()
	maxClipRatio := th.Float("max_clip_ratio", 0.01)
	minDurationMs := th.Int("min_duration_ms", 500)
	minEnergyConsistency := th.Float("min_energy_consistency", 0.3)

	if err := sendText(ctx, ch, deps.Synth, "Please read me a short summary of your service."); err != nil {
		return result("audio_quality", start, false, nil, err.Error())
	}

	v := vad.New()
	audio, _, err := drainUntilEndOfTurn(ctx, ch, v, 15*time.Second)
	if err != nil {
		return result("audio_quality", start, false, nil, err.Error())
	}

	durationMs := len(audio) * 1000 / 24000
	clipRatio := clippingRatio(audio)
	energyConsistency := energyConsistency(audio)

	durationOK := durationMs >= minDurationMs
	clipOK := clipRatio <= maxClipRatio
	energyOK := energyConsistency >= minEnergyConsistency
	pass := durationOK && clipOK && energyOK

	return result("audio_quality", start, pass, map[string]any{
		"duration_ms": durationMs, "clip_ratio": clipRatio, "energy_consistency": energyConsistency,
	}, "")
}

func clippingRatio(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	const clipThreshold = 32000
	clipped := 0
	for _, s := range samples {
		if s >= clipThreshold || s <= -clipThreshold {
			clipped++
		}
	}
	return float64(clipped) / float64(len(samples))
}

// energyConsistency measures how uniform per-window RMS energy is across
// the buffer (1.0 = perfectly uniform), a cheap proxy for dropouts/glitches.
func energyConsistency(samples []int16) float64 {
	const windowSamples = 2400 // 100ms @ 24kHz
	if len(samples) < windowSamples {
		return 1.0
	}

	var rmsValues []float64
	for i := 0; i+windowSamples <= len(samples); i += windowSamples {
		rmsValues = append(rmsValues, voiceio.RMS(samples[i:i+windowSamples]))
	}
	if len(rmsValues) < 2 {
		return 1.0
	}

	var mean float64
	for _, v := range rmsValues {
		mean += v
	}
	mean /= float64(len(rmsValues))
	if mean == 0 {
		return 1.0
	}

	var variance float64
	for _, v := range rmsValues {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(rmsValues))
	stddev := math.Sqrt(variance)

	cv := stddev / mean // coefficient of variation
	consistency := 1.0 - cv
	if consistency < 0 {
		consistency = 0
	}
	return consistency
}
