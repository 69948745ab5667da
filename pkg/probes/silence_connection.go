package probes

import (
	"context"
	"time"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/vad"
)

// SilenceHandling exchanges one turn, sends 8s of silent PCM, and passes
// iff the channel is still connected afterward (§4.5).
func SilenceHandling(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult {
	start := time.Now()

	if err := sendText(ctx, ch, deps.Synth, "Hi, how are you today?"); err != nil {
		return result("silence_handling", start, false, nil, err.Error())
	}
	v := vad.New()
	if _, _, err := drainUntilEndOfTurn(ctx, ch, v, 10*time.Second); err != nil {
		return result("silence_handling", start, false, nil, err.Error())
	}

	const silenceMs = 8000
	const chunkMs = 100
	silentChunk := make([]int16, 24000*chunkMs/1000)
	reprompted := false

	for elapsed := 0; elapsed < silenceMs; elapsed += chunkMs {
		if !ch.Connected() {
			break
		}
		if err := ch.SendAudio(silentChunk); err != nil {
			return result("silence_handling", start, false, map[string]any{"reprompted": reprompted}, err.Error())
		}
		select {
		case ev, ok := <-ch.Events():
			if ok && ev.Kind == audiochannel.EventAudio && len(ev.PCM) > 0 {
				reprompted = true
			}
		case <-time.After(time.Duration(chunkMs) * time.Millisecond):
		case <-ctx.Done():
			return result("silence_handling", start, false, nil, ctx.Err().Error())
		}
	}

	pass := ch.Connected()
	return result("silence_handling", start, pass, map[string]any{"reprompted": reprompted}, "")
}

// ConnectionStability drives five canned turns and passes iff the channel
// never disconnects and all five turns drain (§4.5).
func ConnectionStability(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult {
	start := time.Now()
	prompts := []string{
		"What services do you offer?",
		"How much does the basic plan cost?",
		"Can I cancel anytime?",
		"Do you offer a free trial?",
		"Thanks, that's all I needed.",
	}

	completed := 0
	for _, p := range prompts {
		if !ch.Connected() {
			break
		}
		if err := sendText(ctx, ch, deps.Synth, p); err != nil {
			return result("connection_stability", start, false, map[string]any{"turns_completed": completed}, err.Error())
		}
		v := vad.New()
		if _, _, err := drainUntilEndOfTurn(ctx, ch, v, 10*time.Second); err != nil {
			return result("connection_stability", start, false, map[string]any{"turns_completed": completed}, err.Error())
		}
		if !ch.Connected() {
			break
		}
		completed++
	}

	pass := completed == len(prompts)
	return result("connection_stability", start, pass, map[string]any{"turns_completed": completed}, "")
}
