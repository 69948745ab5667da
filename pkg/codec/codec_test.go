package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voiceci/voiceci/pkg/codec"
)

func TestMulawRoundTripWithinQuantisationBounds(t *testing.T) {
	samples := []int16{0, 100, -100, 1000, -1000, 16000, -16000, 32767, -32768}
	encoded := codec.PCMToMulaw(samples)
	decoded := codec.MulawToPCM(encoded)

	require := func(cond bool, msg string) {
		if !cond {
			t.Fatal(msg)
		}
	}
	require(len(decoded) == len(samples), "round trip changed sample count")

	for i, original := range samples {
		diff := int(original) - int(decoded[i])
		if diff < 0 {
			diff = -diff
		}
		// mu-law is a lossy, logarithmic codec; tolerate quantisation error
		// proportional to signal magnitude.
		tolerance := int(original)/16 + 64
		if tolerance < 0 {
			tolerance = -tolerance
		}
		assert.LessOrEqualf(t, diff, tolerance, "sample %d: %d -> %d exceeds mu-law quantisation bound", i, original, decoded[i])
	}
}

func TestResampleNoOpWhenRatesMatch(t *testing.T) {
	buf := []int16{1, 2, 3, 4}
	assert.Equal(t, buf, codec.Resample(buf, 24000, 24000))
}

func TestResampleUpsampleDoublesLength(t *testing.T) {
	buf := []int16{0, 1000, 2000, 3000}
	out := codec.Resample(buf, 8000, 16000)
	assert.Equal(t, 8, len(out))
}

func TestResampleDownsampleHalvesLength(t *testing.T) {
	buf := make([]int16, 480) // 10ms at 48kHz
	out := codec.Resample(buf, 48000, 24000)
	assert.Equal(t, 240, len(out))
}

func TestPCMBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	assert.Equal(t, samples, codec.BytesToPCMLE(codec.PCMBytesLE(samples)))
}
