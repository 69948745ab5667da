package voiceio

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voiceci/voiceci/pkg/codec"
)

// defaultVoice is used when a probe or conversation scenario doesn't
// override the TTS voice (§3 AdapterConfig.VoiceOverride).
const defaultVoice = "alloy"

// openAISampleHz is the rate go-openai's TTS/STT endpoints natively
// exchange PCM at. It equals the pipeline's 24kHz, so no resampling is
// done at the boundary (§4.4).
const openAISampleHz = 24000

// OpenAISynthesizer synthesizes speech via the OpenAI TTS API.
type OpenAISynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
}

// NewOpenAISynthesizer builds a Synthesizer backed by client.
func NewOpenAISynthesizer(client *openai.Client) *OpenAISynthesizer {
	return &OpenAISynthesizer{client: client, model: openai.TTSModel1}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string, voice string) ([]int16, error) {
	if voice == "" {
		voice = defaultVoice
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("voiceio: synthesize: %w", err)
	}
	defer resp.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp); err != nil {
		return nil, fmt.Errorf("voiceio: read synthesis response: %w", err)
	}
	return codec.BytesToPCMLE(buf.Bytes()), nil
}

// OpenAITranscriber transcribes speech via the OpenAI Whisper API.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

// NewOpenAITranscriber builds a Transcriber backed by client.
func NewOpenAITranscriber(client *openai.Client) *OpenAITranscriber {
	return &OpenAITranscriber{client: client, model: openai.Whisper1}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, pcm24k []int16) (TranscriptResult, error) {
	reader := bytes.NewReader(codec.PCMBytesLE(pcm24k))
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		Reader:   reader,
		FilePath: "audio.pcm",
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("voiceio: transcribe: %w", err)
	}

	confidence := confidenceFromSegments(resp.Segments)
	return TranscriptResult{Text: resp.Text, Confidence: confidence}, nil
}

// confidenceFromSegments derives an overall confidence from Whisper's
// per-segment average log-probability, since the API doesn't return one
// directly. avg_logprob close to 0 is high confidence; below -1 is low.
func confidenceFromSegments(segments []openai.Segment) float64 {
	if len(segments) == 0 {
		return 1.0
	}
	var sum float64
	for _, seg := range segments {
		conf := 1.0 + seg.AvgLogprob
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		sum += conf
	}
	return sum / float64(len(segments))
}
