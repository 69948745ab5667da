package probes

import (
	"context"
	"time"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/vad"
)

// Echo sends a greeting, drains the reply, then listens for unprompted
// agent utterances within a fixed window and passes iff the unprompted
// count stays at or below loop_threshold (default 2, §4.5).
func Echo(ctx context.Context, ch audiochannel.Channel, deps Deps, th Thresholds) store.TestResult {
	start := time.Now()
	loopThreshold := th.Int("loop_threshold", 2)

	if err := sendText(ctx, ch, deps.Synth, "Hello, can you help me with something?"); err != nil {
		return result("echo", start, false, nil, err.Error())
	}

	v := vad.New()
	if _, _, err := drainUntilEndOfTurn(ctx, ch, v, 10*time.Second); err != nil {
		return result("echo", start, false, nil, err.Error())
	}

	const listenWindow = 8 * time.Second
	unpromptedCount := 0
	deadline := time.After(listenWindow)
	v.Reset()
	inUtterance := false

loop:
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				break loop
			}
			if ev.Kind != audiochannel.EventAudio {
				continue
			}
			state, err := v.Process(ev.PCM)
			if err != nil {
				return result("echo", start, false, nil, err.Error())
			}
			if state == vad.StateSpeech && !inUtterance {
				inUtterance = true
				unpromptedCount++
			}
			if state == vad.StateEndOfTurn {
				inUtterance = false
				v.Reset()
			}
		case <-deadline:
			break loop
		case <-ctx.Done():
			return result("echo", start, false, nil, ctx.Err().Error())
		}
	}

	pass := unpromptedCount <= loopThreshold
	return result("echo", start, pass, map[string]any{"unprompted_count": unpromptedCount}, "")
}
