package vad_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceci/voiceci/pkg/vad"
)

func loudFrame(n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 16000
		} else {
			frame[i] = -16000
		}
	}
	return frame
}

func quietFrame(n int) []int16 {
	return make([]int16, n) // all zeros
}

// chunk builds a 24kHz input chunk of the given duration, which resamples
// to ms/20 VAD frames of 20ms/320 samples each.
func chunk(loud bool, ms int) []int16 {
	samples := 24000 * ms / 1000
	if loud {
		return loudFrame(samples)
	}
	return quietFrame(samples)
}

func TestProcessStartsSilentAndStaysIdleOnQuiet(t *testing.T) {
	v := vad.New()
	state, err := v.Process(chunk(false, 100))
	require.NoError(t, err)
	assert.Equal(t, vad.StateSilence, state)
}

func TestProcessTransitionsToSpeechAfterConfirmedVoicedFrames(t *testing.T) {
	v := vad.New()
	var state vad.State
	var err error
	for i := 0; i < 5; i++ {
		state, err = v.Process(chunk(true, 20))
		require.NoError(t, err)
	}
	assert.Equal(t, vad.StateSpeech, state)
}

func TestProcessFiresEndOfTurnAfterSilenceThreshold(t *testing.T) {
	v := vad.New(vad.WithSilenceThresholdMs(100))

	for i := 0; i < 5; i++ {
		_, err := v.Process(chunk(true, 20))
		require.NoError(t, err)
	}

	var state vad.State
	var err error
	for i := 0; i < 10; i++ {
		state, err = v.Process(chunk(false, 20))
		require.NoError(t, err)
		if state == vad.StateEndOfTurn {
			break
		}
	}
	assert.Equal(t, vad.StateEndOfTurn, state)
}

func TestSilenceBeforeAnySpeechNeverReachesEndOfTurn(t *testing.T) {
	v := vad.New(vad.WithSilenceThresholdMs(40))
	var state vad.State
	var err error
	for i := 0; i < 10; i++ {
		state, err = v.Process(chunk(false, 20))
		require.NoError(t, err)
	}
	assert.Equal(t, vad.StateSilence, state, "end_of_turn requires prior speech")
}

func TestResetClearsSpeechHistory(t *testing.T) {
	v := vad.New(vad.WithSilenceThresholdMs(40))
	for i := 0; i < 5; i++ {
		_, err := v.Process(chunk(true, 20))
		require.NoError(t, err)
	}
	v.Reset()

	state, err := v.Process(chunk(false, 20))
	require.NoError(t, err)
	assert.Equal(t, vad.StateSilence, state)
}

func TestProcessPropagatesClassifierFailure(t *testing.T) {
	boom := errors.New("model unavailable")
	v := vad.New(vad.WithClassifier(func(frame []int16) (float64, error) {
		return 0, boom
	}))

	_, err := v.Process(chunk(true, 20))
	require.Error(t, err)
	assert.ErrorIs(t, err, vad.ErrClassifierFailed)
}

func TestDetectSegmentsReturnsOrderedSpans(t *testing.T) {
	var buf []int16
	buf = append(buf, chunk(false, 100)...)
	buf = append(buf, chunk(true, 200)...)
	buf = append(buf, chunk(false, 100)...)

	segments, err := vad.DetectSegments(buf, nil)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Greater(t, segments[0].EndMs, segments[0].StartMs)
}

func TestDestroyIsSafeToCallOnce(t *testing.T) {
	v := vad.New()
	v.Destroy()
}
