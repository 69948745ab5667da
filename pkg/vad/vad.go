// Package vad implements VoiceCI's voice activity detector (C2): a frame
// state machine over 16 kHz PCM (24 kHz input is resampled internally),
// grounded on the RMS-energy VAD in the team-hashing-lokutor-orchestrator
// teacher package (pkg/orchestrator/vad.go), generalized to the
// silence/speech/end_of_turn state machine and batch SpeechSegment form
// required by §4.2.
package vad

import (
	"errors"
	"math"

	"github.com/voiceci/voiceci/pkg/codec"
)

// State is one of the VAD's three states.
type State string

const (
	StateSilence    State = "silence"
	StateSpeech     State = "speech"
	StateEndOfTurn  State = "end_of_turn"
)

// frameSamples is 20ms at 16kHz.
const (
	frameSamples  = 320
	inputSampleHz = 24000
	vadSampleHz   = 16000
)

// ErrClassifierFailed is returned when the per-frame voice-probability
// classifier cannot score a frame; callers must abandon the turn (§4.2).
var ErrClassifierFailed = errors.New("vad: classifier failed on frame")

// Classifier scores one fixed-size 16kHz frame, returning a voice
// probability in [0,1]. The default classifier is energy-based (RMS); a
// fixed classifier is injected so probes can substitute a stub in tests.
type Classifier func(frame []int16) (float64, error)

// VAD is a stateful, per-call voice activity detector.
type VAD struct {
	classifier Classifier

	silenceThresholdMs int
	voiceThreshold     float64
	minConfirmedFrames int

	leftover []int16 // unresampled 24kHz samples carried across Process calls
	frameBuf []int16 // resampled 16kHz samples not yet consumed into a frame

	state             State
	consecutiveVoiced int
	silenceMs         int
	hasSpoken         bool
}

// Option configures a new VAD.
type Option func(*VAD)

// WithSilenceThresholdMs sets the cumulative-silence-since-last-speech
// threshold (ms) that fires end_of_turn.
func WithSilenceThresholdMs(ms int) Option {
	return func(v *VAD) { v.silenceThresholdMs = ms }
}

// WithClassifier overrides the default RMS energy classifier.
func WithClassifier(c Classifier) Option {
	return func(v *VAD) { v.classifier = c }
}

// New creates a VAD with a default silence threshold of 700ms (the
// conversation engine's adaptive threshold updates this via
// SetSilenceThresholdMs, §4.6 step 5).
func New(opts ...Option) *VAD {
	v := &VAD{
		silenceThresholdMs: 700,
		voiceThreshold:     350, // RMS over 16-bit PCM
		minConfirmedFrames: 2,
		state:              StateSilence,
	}
	v.classifier = defaultEnergyClassifier(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetSilenceThresholdMs updates the end-of-turn silence threshold,
// clamped to [600, 5000] at the call site by the conversation engine
// per §4.6 step 5.
func (v *VAD) SetSilenceThresholdMs(ms int) { v.silenceThresholdMs = ms }

// Process accepts an arbitrary-length 24kHz PCM chunk, buffering leftover
// samples so frame boundaries are preserved across calls, and returns the
// VAD's state after consuming every complete frame in the chunk.
func (v *VAD) Process(chunk []int16) (State, error) {
	v.leftover = append(v.leftover, chunk...)

	// Resample in frame-aligned batches so cross-call resampling doesn't
	// distort frame boundaries.
	const inputFrameSamples = frameSamples * inputSampleHz / vadSampleHz // 480 samples @ 24kHz = 320 @ 16kHz
	for len(v.leftover) >= inputFrameSamples {
		batch := v.leftover[:inputFrameSamples]
		v.leftover = v.leftover[inputFrameSamples:]
		v.frameBuf = append(v.frameBuf, codec.Resample(batch, inputSampleHz, vadSampleHz)...)
	}

	for len(v.frameBuf) >= frameSamples {
		frame := v.frameBuf[:frameSamples]
		v.frameBuf = v.frameBuf[frameSamples:]
		if err := v.processFrame(frame); err != nil {
			return v.state, err
		}
	}
	return v.state, nil
}

func (v *VAD) processFrame(frame []int16) error {
	prob, err := v.classifier(frame)
	if err != nil {
		return errors.Join(ErrClassifierFailed, err)
	}

	frameMs := 1000 * frameSamples / vadSampleHz
	voiced := prob >= 0.5

	if voiced {
		v.consecutiveVoiced++
		v.silenceMs = 0
		if v.consecutiveVoiced >= v.minConfirmedFrames {
			v.hasSpoken = true
			v.state = StateSpeech
		}
	} else {
		v.consecutiveVoiced = 0
		if v.hasSpoken {
			v.silenceMs += frameMs
			if v.silenceMs >= v.silenceThresholdMs {
				v.state = StateEndOfTurn
			} else {
				v.state = StateSpeech
			}
		} else {
			v.state = StateSilence
		}
	}
	return nil
}

// Reset returns the VAD to its initial silence state, clearing all
// buffered audio and speech history, for reuse across turns.
func (v *VAD) Reset() {
	v.leftover = nil
	v.frameBuf = nil
	v.state = StateSilence
	v.consecutiveVoiced = 0
	v.silenceMs = 0
	v.hasSpoken = false
}

// Destroy releases internal buffers. The VAD must not be used afterward.
func (v *VAD) Destroy() {
	v.leftover = nil
	v.frameBuf = nil
	v.classifier = nil
}

// SpeechSegment is one contiguous span of detected speech within a batch
// buffer, in milliseconds relative to the buffer start.
type SpeechSegment struct {
	StartMs int
	EndMs   int
}

// DetectSegments runs the VAD over a whole 24kHz buffer in one shot and
// returns the ordered list of speech segments, leaving the VAD's running
// state untouched by operating on a throwaway copy.
func DetectSegments(buf []int16, classifier Classifier) ([]SpeechSegment, error) {
	var opts []Option
	if classifier != nil {
		opts = append(opts, WithClassifier(classifier))
	}
	scratch := New(opts...)
	frameMs := 1000 * frameSamples / vadSampleHz

	var segments []SpeechSegment
	var inSpeech bool
	var segStartMs, elapsedMs int

	const chunkSamples = 480 // 20ms @ 24kHz, one vad frame per chunk
	for offset := 0; offset < len(buf); offset += chunkSamples {
		end := offset + chunkSamples
		if end > len(buf) {
			end = len(buf)
		}
		state, err := scratch.Process(buf[offset:end])
		if err != nil {
			return nil, err
		}

		switch state {
		case StateSpeech:
			if !inSpeech {
				inSpeech = true
				segStartMs = elapsedMs
			}
		case StateSilence, StateEndOfTurn:
			if inSpeech {
				inSpeech = false
				segments = append(segments, SpeechSegment{StartMs: segStartMs, EndMs: elapsedMs})
			}
			if state == StateEndOfTurn {
				scratch.Reset()
			}
		}
		elapsedMs += frameMs
	}
	if inSpeech {
		segments = append(segments, SpeechSegment{StartMs: segStartMs, EndMs: elapsedMs})
	}
	return segments, nil
}

func defaultEnergyClassifier(v *VAD) Classifier {
	return func(frame []int16) (float64, error) {
		rms := calculateRMS(frame)
		if rms >= v.voiceThreshold {
			return 1.0, nil
		}
		return 0.0, nil
	}
}

func calculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	mean := sumSquares / float64(len(samples))
	return math.Sqrt(mean)
}
