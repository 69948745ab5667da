package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/conversation"
	"github.com/voiceci/voiceci/pkg/executor"
	"github.com/voiceci/voiceci/pkg/probes"
	"github.com/voiceci/voiceci/pkg/session"
	"github.com/voiceci/voiceci/pkg/store"
)

// ConfigureAdapterInput is configure_adapter's request body.
type ConfigureAdapterInput struct {
	store.AdapterConfig
}

// ConfigureAdapterOutput is configure_adapter's response.
type ConfigureAdapterOutput struct {
	AdapterConfigID uuid.UUID `json:"adapter_config_id"`
}

// ConfigureAdapter stores cfg under the current session and returns an
// opaque id a later run_suite call can reference (§4.8).
func ConfigureAdapter(sess *session.Session, in ConfigureAdapterInput) (ConfigureAdapterOutput, error) {
	if in.Transport == "" {
		return ConfigureAdapterOutput{}, NewError(KindValidation, "transport is required")
	}
	id := sess.PutAdapterConfig(in.AdapterConfig)
	return ConfigureAdapterOutput{AdapterConfigID: id}, nil
}

// PrepareUploadInput is prepare_upload's request body.
type PrepareUploadInput struct {
	ProjectRoot string `json:"project_root,omitempty"`
}

// PrepareUploadOutput is prepare_upload's response.
type PrepareUploadOutput struct {
	BundleKey     string `json:"bundle_key"`
	UploadCommand string `json:"upload_command"`
}

// PrepareUpload mints a presigned upload URL and the shell command a
// client runs to produce and upload the bundle (§4.8).
func PrepareUpload(ctx context.Context, objStore ObjectStore, in PrepareUploadInput) (PrepareUploadOutput, error) {
	key, cmd, err := prepareUpload(ctx, objStore, in.ProjectRoot)
	if err != nil {
		return PrepareUploadOutput{}, err
	}
	return PrepareUploadOutput{BundleKey: key, UploadCommand: cmd}, nil
}

// RunSuiteInput is run_suite's request body.
type RunSuiteInput struct {
	AdapterConfigID *uuid.UUID          `json:"adapter_config_id,omitempty"`
	AdapterConfig   *store.AdapterConfig `json:"adapter_config,omitempty"`
	TestSpec        store.TestSpec      `json:"test_spec"`
	BundleKey       string              `json:"bundle_key,omitempty"`
	BundleHash      string              `json:"bundle_hash,omitempty"`
	LockfileHash    string              `json:"lockfile_hash,omitempty"`
	CallbackURL     string              `json:"callback_url,omitempty"`
	IdempotencyKey  string              `json:"idempotency_key,omitempty"`
	ProgressToken   string              `json:"progress_token,omitempty"`
}

// RunSuiteOutput is run_suite's response.
type RunSuiteOutput struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunSuite resolves the adapter config, validates preconditions, honors
// idempotency, and enqueues a new run (§4.8, §7).
func RunSuite(ctx context.Context, runs *store.RunRepository, sess *session.Session, owner store.Owner, in RunSuiteInput) (RunSuiteOutput, error) {
	adapterCfg, err := resolveAdapterConfig(sess, in)
	if err != nil {
		return RunSuiteOutput{}, err
	}
	if err := validateRunSuitePreconditions(adapterCfg, in.TestSpec); err != nil {
		return RunSuiteOutput{}, err
	}

	run := &store.Run{
		Owner:          owner,
		SourceType:     sourceTypeFor(in),
		BundleKey:      in.BundleKey,
		BundleHash:     in.BundleHash,
		LockfileHash:   in.LockfileHash,
		IdempotencyKey: in.IdempotencyKey,
		TestSpec:       in.TestSpec,
		AdapterConfig:  adapterCfg,
		CallbackURL:    in.CallbackURL,
		ProgressToken:  in.ProgressToken,
	}

	created, err := runs.Create(ctx, run)
	if err != nil {
		return RunSuiteOutput{}, NewErrorf(KindInternal, "create run: %v", err)
	}

	sess.BindProgressToken(created.ID, in.ProgressToken)
	return RunSuiteOutput{RunID: created.ID}, nil
}

func sourceTypeFor(in RunSuiteInput) store.SourceType {
	if in.BundleKey != "" {
		return store.SourceBundle
	}
	return store.SourceRemote
}

func resolveAdapterConfig(sess *session.Session, in RunSuiteInput) (store.AdapterConfig, error) {
	if in.AdapterConfigID != nil {
		cfg, ok := sess.GetAdapterConfig(*in.AdapterConfigID)
		if !ok {
			return store.AdapterConfig{}, NewError(KindValidation, "unknown adapter_config_id")
		}
		return cfg, nil
	}
	if in.AdapterConfig != nil {
		return *in.AdapterConfig, nil
	}
	return store.AdapterConfig{}, NewError(KindValidation, "one of adapter_config_id or adapter_config is required")
}

// validateRunSuitePreconditions checks the transport/platform/env-var
// preconditions named in §7's "config_missing" kind before a run is ever
// inserted.
func validateRunSuitePreconditions(cfg store.AdapterConfig, spec store.TestSpec) error {
	if len(spec.AudioTests) == 0 && len(spec.ConversationTests) == 0 {
		return NewError(KindValidation, "test_spec must include at least one audio or conversation test")
	}
	switch cfg.Transport {
	case store.TransportWSVoice:
		if cfg.AgentURL == "" {
			return NewError(KindConfigMissing, "ws-voice adapter requires agent_url")
		}
	case store.TransportWebRTC:
		if cfg.LiveKitURL == "" || cfg.LiveKitRoom == "" {
			return NewError(KindConfigMissing, "webrtc adapter requires livekit_url and livekit_room")
		}
	case store.TransportSIP:
		if cfg.TargetPhone == "" {
			return NewError(KindConfigMissing, "sip adapter requires target_phone")
		}
	case store.TransportVapi, store.TransportElevenLabs, store.TransportRetell, store.TransportBland:
		if cfg.PlatformCredRef == "" {
			return NewError(KindConfigMissing, fmt.Sprintf("%s adapter requires platform_cred_ref", cfg.Transport))
		}
	default:
		return NewError(KindValidation, fmt.Sprintf("unknown adapter transport %q", cfg.Transport))
	}
	return nil
}

// GetStatusInput is get_status's request body.
type GetStatusInput struct {
	RunID uuid.UUID `json:"run_id"`
}

// GetStatusOutput is get_status's response: {status} for non-terminal
// runs, else the full result payload (§4.8).
type GetStatusOutput struct {
	Status             store.RunStatus      `json:"status"`
	Aggregate          *store.AggregateResult `json:"aggregate,omitempty"`
	AudioResults       []store.TestResult   `json:"audio_results,omitempty"`
	ConversationResults []store.TestResult  `json:"conversation_results,omitempty"`
	ErrorText          string               `json:"error_text,omitempty"`
	Timings            *Timings             `json:"timings,omitempty"`
}

// Timings reports a finished run's queue/execution durations.
type Timings struct {
	QueuedForMs int64 `json:"queued_for_ms,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`
}

// GetStatus returns run's status, expanding to the full result payload
// once it's terminal (§4.8).
func GetStatus(ctx context.Context, runs *store.RunRepository, scenarios *store.ScenarioRepository, in GetStatusInput) (GetStatusOutput, error) {
	run, err := runs.Get(ctx, in.RunID)
	if err != nil {
		if err == store.ErrNotFound {
			return GetStatusOutput{}, NewError(KindValidation, "unknown run_id")
		}
		return GetStatusOutput{}, NewErrorf(KindInternal, "get run: %v", err)
	}

	out := GetStatusOutput{Status: run.Status}
	if run.Status != store.RunPass && run.Status != store.RunFail {
		return out, nil
	}

	out.Aggregate = run.Aggregate
	out.ErrorText = run.ErrorText
	results, err := scenarios.ListByRun(ctx, run.ID)
	if err != nil {
		return GetStatusOutput{}, NewErrorf(KindInternal, "list results: %v", err)
	}
	for _, r := range results {
		if r.Kind == store.ResultConversation {
			out.ConversationResults = append(out.ConversationResults, r)
		} else {
			out.AudioResults = append(out.AudioResults, r)
		}
	}
	timings := &Timings{}
	if run.Aggregate != nil {
		timings.DurationMs = run.Aggregate.DurationMs
	}
	if run.StartedAt != nil {
		timings.QueuedForMs = run.StartedAt.Sub(run.CreatedAt).Milliseconds()
	}
	out.Timings = timings
	return out, nil
}

// LoadTestInput is load_test's request body: a concurrency of identical
// conversations/audio tests run against the same adapter, in-process and
// unqueued (§4.8: "starts a load campaign in-process (not queued) and
// immediately returns").
type LoadTestInput struct {
	AdapterConfigID *uuid.UUID     `json:"adapter_config_id,omitempty"`
	AdapterConfig   *store.AdapterConfig `json:"adapter_config,omitempty"`
	TestSpec        store.TestSpec `json:"test_spec"`
	Concurrency     int            `json:"concurrency"`
	DurationMs      int64          `json:"duration_ms"`
}

// LoadTestOutput is load_test's immediate response.
type LoadTestOutput struct {
	CampaignID uuid.UUID `json:"campaign_id"`
}

// CampaignStatus is a load campaign's live, in-memory counters; campaigns
// are not persisted runs, so there is no get_status equivalent for them
// (§4.8's terminal note: this tool is fire-and-forget by design).
type CampaignStatus struct {
	Launched  int
	Completed int
	Passed    int
	Failed    int
}

// Campaigns tracks in-flight load_test campaigns in memory.
type Campaigns struct {
	mu     sync.Mutex
	status map[uuid.UUID]*CampaignStatus
}

func NewCampaigns() *Campaigns { return &Campaigns{status: make(map[uuid.UUID]*CampaignStatus)} }

// Get returns a campaign's live counters.
func (c *Campaigns) Get(id uuid.UUID) (CampaignStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.status[id]
	if !ok {
		return CampaignStatus{}, false
	}
	return *st, true
}

// LoadTestDeps is what Run needs to fan a campaign's conversations/audio
// tests out, with NewChannel called by the executor for a fresh channel
// per test (its per-task channel allocation, §4.7).
type LoadTestDeps struct {
	NewChannel       func() (audiochannel.Channel, error)
	Transport        store.AdapterTransport
	ProbeDeps        probes.Deps
	ConversationDeps conversation.Deps
}

// LoadTest launches a campaign of Concurrency workers, each repeatedly
// running TestSpec against a fresh channel until DurationMs elapses, and
// returns immediately with a campaign id whose counters update live.
func LoadTest(campaigns *Campaigns, deps LoadTestDeps, in LoadTestInput) LoadTestOutput {
	id := uuid.New()
	st := &CampaignStatus{}
	campaigns.mu.Lock()
	campaigns.status[id] = st
	campaigns.mu.Unlock()

	concurrency := in.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	deadline := time.Now().Add(time.Duration(in.DurationMs) * time.Millisecond)

	for i := 0; i < concurrency; i++ {
		go func() {
			for time.Now().Before(deadline) {
				result := executor.Run(context.Background(), executor.Input{
					TestSpec:         in.TestSpec,
					NewChannel:       deps.NewChannel,
					Transport:        deps.Transport,
					ProbeDeps:        deps.ProbeDeps,
					ConversationDeps: deps.ConversationDeps,
				})
				campaigns.mu.Lock()
				st.Launched++
				st.Completed++
				if result.Aggregate.Status == store.RunPass {
					st.Passed++
				} else {
					st.Failed++
				}
				campaigns.mu.Unlock()
			}
		}()
	}

	return LoadTestOutput{CampaignID: id}
}

// docStrings backs the get_<doc-name> accessor tools: constant help text
// the client surfaces to end users (§4.8).
var docStrings = map[string]string{
	"adapter_fields":  "configure_adapter accepts: transport (ws-voice|sip|webrtc|vapi|retell|elevenlabs|bland), agent_url, target_phone, platform_cred_ref, livekit_url, livekit_room, voice_override, extra.",
	"audio_tests":     "Fixed audio test names: echo, ttfb, barge_in, silence_handling, connection_stability, response_completeness, noise_resilience, endpointing, audio_quality.",
	"threshold_keys":  "Threshold overrides are nested as {test_name: {key: value}}, e.g. ttfb.p95_threshold_ms, noise_resilience.min_pass_snr_db.",
	"idempotency":     "Pass idempotency_key on run_suite to make any later call by the same tenant with the same key return the existing run_id instead of creating a duplicate run.",
}

// GetDoc resolves a get_<doc-name> tool call to its constant help string.
func GetDoc(name string) (string, error) {
	doc, ok := docStrings[name]
	if !ok {
		return "", NewErrorf(KindValidation, "unknown doc name %q", name)
	}
	return doc, nil
}
