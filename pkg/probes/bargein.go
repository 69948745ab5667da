package probes

import (
	"context"
	"time"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/vad"
)

// BargeIn elicits a long response, interrupts it one second in, and
// measures the latency until agent speech transitions to sustained
// silence, passing iff that latency is at most 2000ms (§4.5).
func BargeIn(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult {
	start := time.Now()
	threshold := time.Duration(th.Int("latency_threshold_ms", 2000)) * time.Millisecond

	if err := sendText(ctx, ch, deps.Synth, "Please describe in full detail every step of your return policy, shipping options, and warranty terms."); err != nil {
		return result("barge_in", start, false, nil, err.Error())
	}

	select {
	case <-time.After(1 * time.Second):
	case <-ctx.Done():
		return result("barge_in", start, false, nil, ctx.Err().Error())
	}

	if err := sendText(ctx, ch, deps.Synth, "Wait, stop, I have a different question."); err != nil {
		return result("barge_in", start, false, nil, err.Error())
	}

	interruptAt := time.Now()
	v := vad.New(vad.WithSilenceThresholdMs(500))
	_, _, err := drainUntilEndOfTurn(ctx, ch, v, 10*time.Second)
	if err != nil {
		return result("barge_in", start, false, nil, err.Error())
	}
	latency := time.Since(interruptAt)

	pass := latency <= threshold
	return result("barge_in", start, pass, map[string]any{"latency_ms": latency.Milliseconds()}, "")
}
