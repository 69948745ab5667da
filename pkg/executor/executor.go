// Package executor implements VoiceCI's bounded-concurrency test executor
// (C7): fans out one task per audio test and one per conversation test,
// each owning its own channel for its full lifecycle, grounded on the
// worker-pool fan-out pattern in the teacher's pkg/queue/pool.go,
// generalized from job dequeue to in-memory task dispatch (§4.7).
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/conversation"
	"github.com/voiceci/voiceci/pkg/probes"
	"github.com/voiceci/voiceci/pkg/store"
)

// defaultConcurrency and sipConcurrency are the fan-out caps named in §4.7.
const (
	defaultConcurrency = 10
	sipConcurrency     = 5
)

// ChannelFactory builds a fresh, unconnected channel for one task. The
// executor calls it once per task so every test gets its own channel
// instance (§4.7).
type ChannelFactory func() (audiochannel.Channel, error)

// Input is the executor's entry point payload (§4.7).
type Input struct {
	TestSpec       store.TestSpec
	NewChannel     ChannelFactory
	Transport      store.AdapterTransport
	ProbeDeps      probes.Deps
	ConversationDeps conversation.Deps
	Thresholds     map[string]map[string]any
	OnTestComplete func(store.TestResult)
}

// Result is the executor's aggregate output (§4.7).
type Result struct {
	Results    []store.TestResult
	Aggregate  store.AggregateResult
}

// Run builds one task per audio test and one per conversation test and
// runs them with a concurrency cap (10, or 5 for SIP transports), emitting
// each completed result via OnTestComplete as it finishes and aggregating
// counts and total duration (§4.7).
func Run(ctx context.Context, in Input) Result {
	start := time.Now()
	concurrencyCap := int64(defaultConcurrency)
	if in.Transport == store.TransportSIP {
		concurrencyCap = sipConcurrency
	}
	sem := semaphore.NewWeighted(concurrencyCap)

	totalTasks := len(in.TestSpec.AudioTests) + len(in.TestSpec.ConversationTests)
	results := make([]store.TestResult, totalTasks)

	var wg sync.WaitGroup
	var mu sync.Mutex
	onComplete := func(idx int, res store.TestResult) {
		mu.Lock()
		results[idx] = res
		mu.Unlock()
		if in.OnTestComplete != nil {
			in.OnTestComplete(res)
		}
	}

	taskIdx := 0
	for _, name := range in.TestSpec.AudioTests {
		idx := taskIdx
		taskIdx++
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				onComplete(idx, errorResult(store.ResultAudio, name, err))
				return
			}
			defer sem.Release(1)
			onComplete(idx, runAudioTask(ctx, in, name))
		}()
	}

	for _, test := range in.TestSpec.ConversationTests {
		idx := taskIdx
		taskIdx++
		test := test
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				onComplete(idx, errorResult(store.ResultConversation, test.CallerPrompt, err))
				return
			}
			defer sem.Release(1)
			onComplete(idx, runConversationTask(ctx, in, test))
		}()
	}

	wg.Wait()

	return Result{Results: results, Aggregate: aggregate(results, start)}
}

func runAudioTask(ctx context.Context, in Input, name string) store.TestResult {
	probe, ok := probes.Registry[name]
	if !ok {
		return errorResult(store.ResultAudio, name, fmt.Errorf("executor: unknown audio test %q", name))
	}

	ch, err := in.NewChannel()
	if err != nil {
		return errorResult(store.ResultAudio, name, err)
	}
	if err := ch.Connect(ctx); err != nil {
		return errorResult(store.ResultAudio, name, err)
	}
	defer ch.Disconnect()

	th := probes.Thresholds{}
	if override, ok := in.Thresholds[name]; ok {
		th = override
	}
	return probe(ctx, ch, in.ProbeDeps, th)
}

func runConversationTask(ctx context.Context, in Input, test store.ConversationTest) store.TestResult {
	ch, err := in.NewChannel()
	if err != nil {
		return errorResult(store.ResultConversation, test.CallerPrompt, err)
	}
	if err := ch.Connect(ctx); err != nil {
		return errorResult(store.ResultConversation, test.CallerPrompt, err)
	}
	defer ch.Disconnect()

	engine := conversation.New(in.ConversationDeps)
	return engine.Run(ctx, ch, test)
}

func errorResult(kind store.TestResultKind, name string, err error) store.TestResult {
	return store.TestResult{Kind: kind, Name: name, CallerPrompt: name, Status: store.RunFail, ErrorText: err.Error()}
}

// aggregate computes overall counts and duration; status is pass iff every
// sub-result passed (§4.7).
func aggregate(results []store.TestResult, start time.Time) store.AggregateResult {
	agg := store.AggregateResult{Status: store.RunPass, TotalTests: len(results), DurationMs: time.Since(start).Milliseconds()}
	for _, r := range results {
		if r.Passed() {
			agg.PassedTests++
		} else {
			agg.FailedTests++
			agg.Status = store.RunFail
		}
	}
	return agg
}
