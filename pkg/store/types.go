// Package store defines VoiceCI's persisted data model (§3) and the
// Postgres-backed repositories (C9/C11 persistence layer) that read and
// write it. Repositories use raw pgx-driven *sql.DB queries rather than an
// ORM: ent (the teacher's ORM) requires code generation we cannot run in
// this environment, so the concern is carried by plain SQL instead — see
// DESIGN.md.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the Run lifecycle: queued -> running -> {pass, fail}.
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunPass    RunStatus = "pass"
	RunFail    RunStatus = "fail"
)

// SourceType distinguishes a bundle-upload run from a remote-agent-URL run.
type SourceType string

const (
	SourceBundle SourceType = "bundle"
	SourceRemote SourceType = "remote"
)

// Owner identifies the tenant+key pair a Run belongs to. Queues are keyed
// by TenantID alone (see RunRepository.ClaimNext); KeyID is stored with the
// run but does not partition queues.
type Owner struct {
	TenantID string `json:"tenant_id"`
	KeyID    string `json:"key_id"`
}

// Run is a unit of work created by a client action (§3).
type Run struct {
	ID             uuid.UUID
	Owner          Owner
	SourceType     SourceType
	BundleKey      string
	BundleHash     string
	LockfileHash   string
	IdempotencyKey string
	Status         RunStatus
	TestSpec       TestSpec
	AdapterConfig  AdapterConfig
	Aggregate      *AggregateResult
	ErrorText      string
	CallbackURL    string
	ProgressToken  string
	AssignedWorker string
	AssignedMachine string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	LastHeartbeat  *time.Time
}

// AggregateResult summarizes a finished run.
type AggregateResult struct {
	Status       RunStatus `json:"status"`
	TotalTests   int       `json:"total_tests"`
	PassedTests  int       `json:"passed_tests"`
	FailedTests  int       `json:"failed_tests"`
	DurationMs   int64     `json:"duration_ms"`
}

// EvalQuestion is one yes/no evaluation question asked of the judge LLM.
type EvalQuestion struct {
	Question string `json:"question"`
}

// ConversationTest describes one scripted conversation scenario (§3).
type ConversationTest struct {
	CallerPrompt            string         `json:"caller_prompt"`
	MaxTurns                int            `json:"max_turns" validate:"min=1,max=50"`
	InitialSilenceMs        *int           `json:"initial_silence_ms,omitempty"`
	BehavioralEvals         []EvalQuestion `json:"behavioral_evals"`
	ToolCallEvals           []EvalQuestion `json:"tool_call_evals"`
}

// TestSpec is the pair of lists describing what a Run should exercise (§3).
// At least one of AudioTests/ConversationTests must be non-empty.
type TestSpec struct {
	AudioTests        []string            `json:"audio_tests"`
	ConversationTests []ConversationTest  `json:"conversation_tests"`
	Thresholds        map[string]map[string]any `json:"thresholds,omitempty"`
}

// AdapterTransport is the tagged-variant discriminator for AdapterConfig.
type AdapterTransport string

const (
	TransportWSVoice    AdapterTransport = "ws-voice"
	TransportSIP        AdapterTransport = "sip"
	TransportWebRTC     AdapterTransport = "webrtc"
	TransportVapi       AdapterTransport = "vapi"
	TransportRetell     AdapterTransport = "retell"
	TransportElevenLabs AdapterTransport = "elevenlabs"
	TransportBland      AdapterTransport = "bland"
)

// AdapterConfig is the bag of fields needed to dial one voice agent (§3).
// Per-session lifetime only; owned exclusively by C8's Session.
type AdapterConfig struct {
	Transport        AdapterTransport `json:"transport"`
	AgentURL         string           `json:"agent_url,omitempty"`
	TargetPhone      string           `json:"target_phone,omitempty"`
	PlatformCredRef  string           `json:"platform_cred_ref,omitempty"`
	LiveKitURL       string           `json:"livekit_url,omitempty"`
	LiveKitRoom      string           `json:"livekit_room,omitempty"`
	VoiceOverride    string           `json:"voice_override,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// Turn is one utterance in a conversation transcript (§3).
type Turn struct {
	Role            string  `json:"role"` // "caller" | "agent"
	Text            string  `json:"text"`
	TimestampMs     int64   `json:"timestamp_ms"`
	AudioDurationMs *int64  `json:"audio_duration_ms,omitempty"`
	TTFBMs          *int64  `json:"ttfb_ms,omitempty"`
	STTConfidence   *float64 `json:"stt_confidence,omitempty"`
	TTSMs           *int64  `json:"tts_ms,omitempty"`
	STTMs           *int64  `json:"stt_ms,omitempty"`
}

// ObservedToolCall is a tool invocation observed on the channel's side
// channel (§3), ordered by observation order.
type ObservedToolCall struct {
	Name        string         `json:"name"`
	Arguments   map[string]any `json:"arguments"`
	Result      any            `json:"result,omitempty"`
	Successful  *bool          `json:"successful,omitempty"`
	TimestampMs *int64         `json:"timestamp_ms,omitempty"`
	LatencyMs   *int64         `json:"latency_ms,omitempty"`
}

// TestResultKind discriminates the TestResult tagged variant.
type TestResultKind string

const (
	ResultAudio        TestResultKind = "audio"
	ResultConversation TestResultKind = "conversation"
)

// TestResult is the tagged variant returned per sub-test (§3).
type TestResult struct {
	Kind TestResultKind `json:"kind"`

	// Audio variant fields.
	Name       string         `json:"name,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`

	// Conversation variant fields.
	CallerPrompt          string             `json:"caller_prompt,omitempty"`
	Transcript            []Turn             `json:"transcript,omitempty"`
	EvalResults           map[string]bool    `json:"eval_results,omitempty"`
	ToolCallEvalResults   map[string]bool    `json:"tool_call_eval_results,omitempty"`
	ObservedToolCalls     []ObservedToolCall `json:"observed_tool_calls,omitempty"`

	Status     RunStatus `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	ErrorText  string    `json:"error,omitempty"`
}

// Passed reports whether this sub-result counts toward an overall pass.
func (r TestResult) Passed() bool { return r.Status == RunPass }

// ScenarioResult is the persisted row for one TestResult (§6 persisted state).
type ScenarioResult struct {
	ID        uuid.UUID
	RunID     uuid.UUID
	Name      string
	Status    RunStatus
	TestType  TestResultKind
	Result    TestResult
	CreatedAt time.Time
}

// ImageStatus is the DependencyImage lifecycle (§3).
type ImageStatus string

const (
	ImageBuilding ImageStatus = "building"
	ImageReady    ImageStatus = "ready"
	ImageFailed   ImageStatus = "failed"
)

// DependencyImage caches a bundle's built dependency image, keyed by the
// project lockfile's hash (§3, §4.10).
type DependencyImage struct {
	LockfileHash   string
	ImageRef       string
	BaseImageRef   string
	Status         ImageStatus
	BuilderMachineID string
	ErrorText      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MarshalJSON helpers reused by repositories when storing JSONB columns.
func toJSON(v any) ([]byte, error) { return json.Marshal(v) }
