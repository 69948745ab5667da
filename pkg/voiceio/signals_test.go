package voiceio_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voiceci/voiceci/pkg/voiceio"
)

func TestSilenceIsExactlyZero(t *testing.T) {
	buf := voiceio.Silence(100)
	for _, s := range buf {
		assert.Equal(t, int16(0), s)
	}
}

func TestWhiteNoiseIsDeterministicForFixedSeed(t *testing.T) {
	a := voiceio.WhiteNoise(1000, 42, 3000)
	b := voiceio.WhiteNoise(1000, 42, 3000)
	assert.Equal(t, a, b)
}

func TestWhiteNoiseDiffersAcrossSeeds(t *testing.T) {
	a := voiceio.WhiteNoise(1000, 1, 3000)
	b := voiceio.WhiteNoise(1000, 2, 3000)
	assert.NotEqual(t, a, b)
}

func TestGeneratorsHitTargetRMSWithinTolerance(t *testing.T) {
	const target = 4000.0
	for _, buf := range [][]int16{
		voiceio.WhiteNoise(5000, 7, target),
		voiceio.BabbleNoise(5000, 7, target),
		voiceio.PinkNoise(5000, 7, target),
	} {
		rms := voiceio.RMS(buf)
		assert.InDeltaf(t, target, rms, target*0.05, "generator RMS off target")
	}
}

func TestMixAudioAchievesRequestedSNR(t *testing.T) {
	clean := voiceio.WhiteNoise(20000, 1, 5000)
	noise := voiceio.WhiteNoise(20000, 2, 5000)

	for _, snr := range []float64{5, 10, 20} {
		mixed := voiceio.MixAudio(clean, noise, snr)

		noiseComponent := make([]int16, len(mixed))
		for i := range noiseComponent {
			noiseComponent[i] = int16(float64(mixed[i]) - float64(clean[i]))
		}

		cleanRMS := voiceio.RMS(clean)
		noiseRMS := voiceio.RMS(noiseComponent)
		measuredSNR := 20 * math.Log10(cleanRMS/noiseRMS)

		assert.InDeltaf(t, snr, measuredSNR, 0.5, "measured SNR off requested %.0fdB", snr)
	}
}

func TestMixAudioPassesThroughWhenNoiseEmpty(t *testing.T) {
	clean := []int16{1, 2, 3}
	assert.Equal(t, clean, voiceio.MixAudio(clean, nil, 10))
}
