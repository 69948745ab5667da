package codec

// Resample converts a mono int16 PCM buffer from fromHz to toHz using
// linear interpolation, preserving endianness (§4.1). Returns buf unchanged
// if the rates match.
func Resample(buf []int16, fromHz, toHz int) []int16 {
	if fromHz == toHz || len(buf) == 0 {
		return buf
	}

	ratio := float64(toHz) / float64(fromHz)
	outLen := int(float64(len(buf)) * ratio)
	if outLen <= 0 {
		return nil
	}

	out := make([]int16, outLen)
	step := float64(fromHz) / float64(toHz)
	for i := range out {
		srcPos := float64(i) * step
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		a := buf[idx]
		b := a
		if idx+1 < len(buf) {
			b = buf[idx+1]
		}
		out[i] = int16(float64(a) + frac*float64(b-a))
	}
	return out
}

// PCMBytesLE encodes int16 samples into a little-endian byte buffer, the
// canonical wire representation used by the websocket and WebRTC channels.
func PCMBytesLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(uint16(s))
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// BytesToPCMLE decodes a little-endian byte buffer into int16 samples.
// Trailing odd bytes (a partial sample) are dropped.
func BytesToPCMLE(buf []byte) []int16 {
	n := len(buf) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
	}
	return out
}
