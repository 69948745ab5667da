package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/vad"
	"github.com/voiceci/voiceci/pkg/voiceio"
)

type noiseKind struct {
	name string
	gen  func(n int, seed uint64, targetRMS float64) []int16
}

var noiseKinds = []noiseKind{
	{"white", voiceio.WhiteNoise},
	{"babble", voiceio.BabbleNoise},
	{"pink", voiceio.PinkNoise},
}

var noiseSNRLevels = []float64{20, 10, 5}

// NoiseResilience records a clean-baseline TTFB, then runs nine trials
// across {white,babble,pink}×{20,10,5 dB SNR}, passing iff every trial at
// SNR at or above min_pass_snr_db (default 10) got a response (§4.5).
func NoiseResilience(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult {
	start := time.Now()
	minPassSNR := th.Float("min_pass_snr_db", 10)

	prompt := "Can you tell me your business hours?"
	cleanPCM, err := deps.Synth.Synthesize(ctx, prompt, "")
	if err != nil {
		return result("noise_resilience", start, false, nil, err.Error())
	}

	if err := ch.SendAudio(cleanPCM); err != nil {
		return result("noise_resilience", start, false, nil, err.Error())
	}
	v := vad.New()
	_, baselineTTFB, err := drainUntilEndOfTurn(ctx, ch, v, 15*time.Second)
	if err != nil {
		return result("noise_resilience", start, false, nil, err.Error())
	}

	trials := make(map[string]bool)
	allRequiredPassed := true
	seed := uint64(1)

	for _, nk := range noiseKinds {
		for _, snr := range noiseSNRLevels {
			seed++
			noise := nk.gen(len(cleanPCM), seed, voiceio.RMS(cleanPCM))
			noisy := voiceio.MixAudio(cleanPCM, noise, snr)

			if err := ch.SendAudio(noisy); err != nil {
				return result("noise_resilience", start, false, nil, err.Error())
			}
			v := vad.New()
			audio, _, err := drainUntilEndOfTurn(ctx, ch, v, 15*time.Second)
			if err != nil {
				return result("noise_resilience", start, false, nil, err.Error())
			}
			responded := len(audio) > 0

			key := fmt.Sprintf("%s_%ddb", nk.name, int(snr))
			trials[key] = responded
			if snr >= minPassSNR && !responded {
				allRequiredPassed = false
			}

			select {
			case <-time.After(300 * time.Millisecond):
			case <-ctx.Done():
				return result("noise_resilience", start, false, nil, ctx.Err().Error())
			}
		}
	}

	metrics := map[string]any{"baseline_ttfb_ms": baselineTTFB.Milliseconds(), "trials": trials}
	return result("noise_resilience", start, allRequiredPassed, metrics, "")
}

// Endpointing runs 3 trials of partA + silence(pause_ms) + partB and
// passes iff at least min_pass_ratio (default 0.67) of trials show no
// premature response during the silence (§4.5).
func Endpointing(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult {
	start := time.Now()
	pauseMs := th.Int("pause_ms", 1500)
	minPassRatio := th.Float("min_pass_ratio", 0.67)

	trialParts := [][2]string{
		{"I need to check on", "my recent order status."},
		{"Can you help me", "update my billing address?"},
		{"I was wondering if", "you offer international shipping?"},
	}

	cleanTrials := 0
	for _, parts := range trialParts {
		partA, err := deps.Synth.Synthesize(ctx, parts[0], "")
		if err != nil {
			return result("endpointing", start, false, nil, err.Error())
		}
		partB, err := deps.Synth.Synthesize(ctx, parts[1], "")
		if err != nil {
			return result("endpointing", start, false, nil, err.Error())
		}
		pauseSamples := 24000 * pauseMs / 1000
		pause := make([]int16, pauseSamples)

		if err := ch.SendAudio(partA); err != nil {
			return result("endpointing", start, false, nil, err.Error())
		}

		premature := false
		prematureDeadline := time.After(time.Duration(pauseMs) * time.Millisecond)
		listening := true
		for listening {
			select {
			case ev, ok := <-ch.Events():
				if ok && ev.Kind == audiochannel.EventAudio && len(ev.PCM) > 0 {
					premature = true
				}
			case <-prematureDeadline:
				listening = false
			case <-ctx.Done():
				return result("endpointing", start, false, nil, ctx.Err().Error())
			}
		}

		if err := ch.SendAudio(pause); err != nil {
			return result("endpointing", start, false, nil, err.Error())
		}
		if err := ch.SendAudio(partB); err != nil {
			return result("endpointing", start, false, nil, err.Error())
		}

		v := vad.New()
		if _, _, err := drainUntilEndOfTurn(ctx, ch, v, 15*time.Second); err != nil {
			return result("endpointing", start, false, nil, err.Error())
		}

		if !premature {
			cleanTrials++
		}
	}

	ratio := float64(cleanTrials) / float64(len(trialParts))
	pass := ratio >= minPassRatio

	return result("endpointing", start, pass, map[string]any{
		"clean_trials": cleanTrials, "total_trials": len(trialParts), "ratio": ratio,
	}, "")
}
