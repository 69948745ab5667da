// Package scheduler implements C9's per-tenant FIFO worker pool: each
// worker polls the shared run queue, claims at most one run at a time, and
// dispatches it to either the in-process or machine execution path,
// grounded on the teacher's pkg/queue/pool.go and worker.go (§4.9).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voiceci/voiceci/pkg/config"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/telemetry"
)

// RunExecutor executes one claimed run to completion, writing its terminal
// state via the store itself (in-process path) or delegating to a machine
// and awaiting its callback (machine path) — see §4.9 routing.
type RunExecutor interface {
	Execute(ctx context.Context, run *store.Run)
}

// Pool is a per-process FIFO worker pool over the shared runs table.
// Per-tenant isolation comes from queue topology (§4.9): a tenant's queue
// name is its tenant id, and the pool only claims among the tenant ids in
// its activeQueues set. That set starts from whatever tenants already have
// queued work and grows as AttachQueue is called, wired to the pub/sub
// announcement every successful run_suite call makes for its tenant
// (§4.9: "plus a pub/sub channel announcing new queues so workers attach
// dynamically without restart").
type Pool struct {
	workerIDPrefix string
	runs           *store.RunRepository
	cfg            *config.QueueConfig
	executor       RunExecutor
	logger         *slog.Logger
	instruments    *telemetry.Instruments

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.Mutex
	active       map[string]context.CancelFunc // run id -> cancel
	activeQueues map[string]struct{}           // tenant id -> attached
	started      bool
}

// NewPool builds a worker Pool. workerIDPrefix should be unique per process
// (e.g. hostname-pid) so claimed rows are traceable to the worker that
// holds them. instruments may be nil, in which case claims simply aren't
// recorded.
func NewPool(workerIDPrefix string, runs *store.RunRepository, cfg *config.QueueConfig, executor RunExecutor, logger *slog.Logger, instruments *telemetry.Instruments) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workerIDPrefix: workerIDPrefix, runs: runs, cfg: cfg, executor: executor, logger: logger, instruments: instruments,
		stopCh: make(chan struct{}), active: make(map[string]context.CancelFunc),
		activeQueues: make(map[string]struct{}),
	}
}

// AttachQueue adds tenantID to this pool's set of claimable queues, so the
// next poll picks up its runs without a restart. Safe to call repeatedly
// and concurrently; a pub/sub Listener calls this on every announcement.
func (p *Pool) AttachQueue(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.activeQueues[tenantID]; !ok {
		p.activeQueues[tenantID] = struct{}{}
		p.logger.Info("scheduler: attached tenant queue", "tenant_id", tenantID)
	}
}

func (p *Pool) queueNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.activeQueues))
	for name := range p.activeQueues {
		names = append(names, name)
	}
	return names
}

// seedActiveQueues loads the tenants with already-queued work at startup,
// so existing runs are claimable immediately instead of waiting for a new
// run_suite call to announce them (e.g. after a process restart).
func (p *Pool) seedActiveQueues(ctx context.Context) {
	tenants, err := p.runs.ActiveTenantQueues(ctx)
	if err != nil {
		p.logger.Warn("scheduler: seed active queues failed", "error", err)
		return
	}
	for _, t := range tenants {
		p.AttachQueue(t)
	}
}

// Start spawns cfg.WorkerCount poller goroutines plus the orphan-detection
// loop. Safe to call once; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.seedActiveQueues(ctx)

	p.logger.Info("scheduler: starting worker pool", "worker_count", p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.workerIDPrefix, i)
		p.wg.Add(1)
		go p.runWorker(ctx, workerID)
	}

	p.wg.Add(1)
	go p.runOrphanDetection(ctx)
}

// Stop signals every worker to stop after its current run and blocks until
// they exit or gracefulShutdownTimeout elapses (§4.9 graceful shutdown).
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		p.logger.Warn("scheduler: graceful shutdown timed out, workers may still be running")
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, workerID)
		}
	}
}

func (p *Pool) pollOnce(ctx context.Context, workerID string) {
	run, err := p.runs.ClaimNext(ctx, workerID, p.queueNames())
	if err != nil {
		if err != store.ErrNotFound {
			p.logger.Error("scheduler: claim failed", "worker", workerID, "error", err)
		}
		return
	}

	if p.instruments != nil {
		p.instruments.RunsClaimed.Add(ctx, 1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.active[run.ID.String()] = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.active, run.ID.String())
		p.mu.Unlock()
	}()

	p.executor.Execute(runCtx, run)
}

// runOrphanDetection periodically requeues runs whose heartbeat has gone
// stale, implementing the worker-crash recovery §C Supplemented Features
// names.
func (p *Pool) runOrphanDetection(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.runs.RequeueOrphans(ctx, p.cfg.OrphanThreshold)
			if err != nil {
				p.logger.Error("scheduler: orphan detection failed", "error", err)
				continue
			}
			if n > 0 {
				p.logger.Info("scheduler: requeued orphaned runs", "count", n)
			}
		}
	}
}

// ActiveRunIDs returns the run ids this worker pool is currently executing.
func (p *Pool) ActiveRunIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}
