package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voiceci/voiceci/pkg/conversation"
	"github.com/voiceci/voiceci/pkg/events"
	"github.com/voiceci/voiceci/pkg/executor"
	"github.com/voiceci/voiceci/pkg/machine"
	"github.com/voiceci/voiceci/pkg/probes"
	"github.com/voiceci/voiceci/pkg/session"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/telemetry"
)

// heartbeatInterval is how often the in-process path refreshes a run's
// liveness signal while the executor is running.
const heartbeatInterval = 15 * time.Second

// inProcessTransports are the adapter transports directly reachable from a
// worker process without provisioning a VM (§4.9 routing rule).
var inProcessTransports = map[store.AdapterTransport]bool{
	store.TransportSIP:        true,
	store.TransportWebRTC:     true,
	store.TransportVapi:       true,
	store.TransportRetell:     true,
	store.TransportElevenLabs: true,
	store.TransportBland:      true,
}

// ChannelFactoryResolver builds a fresh channel factory for a run's
// adapter config, dispatching to the right audiochannel constructor by
// transport.
type ChannelFactoryResolver func(cfg store.AdapterConfig) executor.ChannelFactory

// Executor is the scheduler's RunExecutor: it routes a claimed run to the
// in-process executor path or the machine path, writes status
// transitions, and persists results (§4.9).
type Executor struct {
	runs          *store.RunRepository
	scenarios     *store.ScenarioRepository
	machines      *machine.Provisioner
	resolveChannel ChannelFactoryResolver
	probeDeps     probes.Deps
	convoDeps     conversation.Deps
	sessions      *session.Manager
	push          *events.Manager
	logger        *slog.Logger
	instruments   *telemetry.Instruments
}

// NewExecutor builds the scheduler's RunExecutor. instruments may be nil.
// sessions/push wire the in-process path to the owning session's push
// stream (§2 dataflow: "C11 (or C7 directly, in-process) pushes each
// result onto the session's push channel via C8"); both may be nil, in
// which case in-process results are persisted but not streamed live.
func NewExecutor(runs *store.RunRepository, scenarios *store.ScenarioRepository, machines *machine.Provisioner,
	resolveChannel ChannelFactoryResolver, probeDeps probes.Deps, convoDeps conversation.Deps,
	sessions *session.Manager, push *events.Manager, logger *slog.Logger,
	instruments *telemetry.Instruments) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		runs: runs, scenarios: scenarios, machines: machines,
		resolveChannel: resolveChannel, probeDeps: probeDeps, convoDeps: convoDeps,
		sessions: sessions, push: push, logger: logger, instruments: instruments,
	}
}

// Execute routes a claimed run: agent_url set or adapter in the
// directly-reachable set takes the in-process path; otherwise the machine
// path provisions an ephemeral VM that runs the executor remotely and
// POSTs results to C11 (§4.9).
func (e *Executor) Execute(ctx context.Context, run *store.Run) {
	if run.AdapterConfig.AgentURL != "" || inProcessTransports[run.AdapterConfig.Transport] {
		e.runInProcess(ctx, run)
		return
	}
	e.runOnMachine(ctx, run)
}

func (e *Executor) runInProcess(ctx context.Context, run *store.Run) {
	stopHeartbeat := e.startHeartbeat(ctx, run.ID)
	defer stopHeartbeat()

	in := executor.Input{
		TestSpec:         run.TestSpec,
		NewChannel:       e.resolveChannel(run.AdapterConfig),
		Transport:        run.AdapterConfig.Transport,
		ProbeDeps:        e.probeDeps,
		ConversationDeps: e.convoDeps,
		Thresholds:       run.TestSpec.Thresholds,
		OnTestComplete: func(res store.TestResult) {
			if err := e.scenarios.Insert(ctx, run.ID, res); err != nil {
				e.logger.Error("scheduler: persist test result failed", "run_id", run.ID, "error", err)
			}
			if e.instruments != nil {
				e.instruments.ProbeDuration.Record(ctx, float64(res.DurationMs),
					metric.WithAttributes(attribute.String("status", string(res.Status))))
			}
			e.pushResult(run.ID, res)
		},
	}

	result := executor.Run(ctx, in)
	if err := e.runs.Finish(ctx, run.ID, result.Aggregate.Status, result.Aggregate, ""); err != nil {
		e.logger.Error("scheduler: finish run failed", "run_id", run.ID, "error", err)
	}
	if e.instruments != nil {
		e.instruments.RunsFinished.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(result.Aggregate.Status))))
	}
}

// machineSizeFor implements the VM sizing rule from §4.9: shared/1/1GiB for
// <=6 tests, perf/2/2GiB for <=12, perf/4/4GiB above.
func machineSizeFor(testCount int) machine.Size {
	switch {
	case testCount <= 6:
		return machine.Size{Class: "shared", CPUs: 1, MemoryGiB: 1}
	case testCount <= 12:
		return machine.Size{Class: "perf", CPUs: 2, MemoryGiB: 2}
	default:
		return machine.Size{Class: "perf", CPUs: 4, MemoryGiB: 4}
	}
}

func (e *Executor) runOnMachine(ctx context.Context, run *store.Run) {
	testCount := len(run.TestSpec.AudioTests) + len(run.TestSpec.ConversationTests)
	size := machineSizeFor(testCount)

	vm, err := e.machines.Provision(ctx, run, size)
	if err != nil {
		if failErr := e.runs.MarkFailed(ctx, run.ID, err.Error()); failErr != nil {
			e.logger.Error("scheduler: mark failed after provision error", "run_id", run.ID, "error", failErr)
		}
		if e.instruments != nil {
			e.instruments.RunsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(store.RunFail))))
		}
		return
	}
	if e.instruments != nil {
		e.instruments.MachineProvisions.Add(ctx, 1)
	}
	defer e.machines.Destroy(context.Background(), vm)

	if err := e.machines.WaitUntilExit(ctx, vm); err != nil {
		if failErr := e.runs.MarkFailed(ctx, run.ID, err.Error()); failErr != nil {
			e.logger.Error("scheduler: mark failed after machine wait error", "run_id", run.ID, "error", failErr)
		}
		if e.instruments != nil {
			e.instruments.RunsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(store.RunFail))))
		}
		return
	}
	// The machine's in-VM executor POSTs its own result to C11, which
	// writes the terminal status and records RunsFinished there.
}

// pushResult streams res to run's owning session, if the executor was
// wired with a session/push manager and the session is still connected
// (§4.11). The machine path's equivalent lives in pkg/callback.
func (e *Executor) pushResult(runID uuid.UUID, res store.TestResult) {
	if e.sessions == nil || e.push == nil {
		return
	}
	sessionID, ok := e.sessions.SessionForRun(runID)
	if !ok {
		return
	}
	if err := e.push.Push(sessionID, events.Event{Type: "result", RunID: runID.String(), Payload: res}); err != nil {
		e.logger.Warn("scheduler: push result failed", "run_id", runID, "error", err)
	}
}

func (e *Executor) startHeartbeat(ctx context.Context, runID uuid.UUID) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := e.runs.Heartbeat(ctx, runID); err != nil {
					e.logger.Warn("scheduler: heartbeat failed", "run_id", runID, "error", err)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(stop) }
}
