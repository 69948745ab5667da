// Package voiceio implements VoiceCI's voice I/O layer (C4): TTS synthesis,
// STT transcription, deterministic noise-signal generation, and audio
// mixing, grounded on the teacher's pkg/llm client pattern (single
// interface + one concrete provider) generalized to the three provider
// roles this system needs.
package voiceio

import "context"

// Synthesizer turns text into 24kHz mono PCM (§4.4). Implementations cache
// nothing; callers that want caching wrap a Synthesizer themselves.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice string) ([]int16, error)
}

// TranscriptResult is the result of transcribing one buffer of audio.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Transcriber turns 24kHz mono PCM into text (§4.4).
type Transcriber interface {
	Transcribe(ctx context.Context, pcm24k []int16) (TranscriptResult, error)
}
