package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceci/voiceci/pkg/store"
	testdb "github.com/voiceci/voiceci/test/database"
)

func TestRunRepositoryCreateAndClaim(t *testing.T) {
	client := testdb.NewTestClient(t)
	repo := store.NewRunRepository(client.DB())
	ctx := context.Background()

	run := &store.Run{
		Owner:         store.Owner{TenantID: "acme", KeyID: "key-1"},
		SourceType:    store.SourceBundle,
		TestSpec:      store.TestSpec{AudioTests: []string{"echo"}},
		AdapterConfig: store.AdapterConfig{Transport: store.TransportWSVoice, AgentURL: "wss://agent.example/ws"},
	}

	created, err := repo.Create(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, store.RunQueued, created.Status)

	claimed, err := repo.ClaimNext(ctx, "worker-1", []string{"acme"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, claimed.ID)
	assert.Equal(t, store.RunRunning, claimed.Status)

	_, err = repo.ClaimNext(ctx, "worker-2", []string{"acme"})
	assert.ErrorIs(t, err, store.ErrNotFound, "no second queued run to claim")

	_, err = repo.ClaimNext(ctx, "worker-3", nil)
	assert.ErrorIs(t, err, store.ErrNotFound, "a worker with no active queues claims nothing")
}

func TestRunRepositoryClaimNextIsolatesTenantQueues(t *testing.T) {
	client := testdb.NewTestClient(t)
	repo := store.NewRunRepository(client.DB())
	ctx := context.Background()

	adapter := store.AdapterConfig{Transport: store.TransportWSVoice, AgentURL: "wss://agent.example/ws"}
	_, err := repo.Create(ctx, &store.Run{
		Owner: store.Owner{TenantID: "other-tenant", KeyID: "key-1"},
		TestSpec: store.TestSpec{AudioTests: []string{"echo"}}, AdapterConfig: adapter,
	})
	require.NoError(t, err)

	_, err = repo.ClaimNext(ctx, "worker-1", []string{"acme"})
	assert.ErrorIs(t, err, store.ErrNotFound, "a run queued for another tenant isn't visible to an acme-only worker")

	tenants, err := repo.ActiveTenantQueues(ctx)
	require.NoError(t, err)
	assert.Contains(t, tenants, "other-tenant")
}

func TestRunRepositoryIdempotencyKeyCollision(t *testing.T) {
	client := testdb.NewTestClient(t)
	repo := store.NewRunRepository(client.DB())
	ctx := context.Background()

	spec := store.TestSpec{AudioTests: []string{"echo"}}
	adapter := store.AdapterConfig{Transport: store.TransportWSVoice, AgentURL: "wss://agent.example/ws"}

	first, err := repo.Create(ctx, &store.Run{
		Owner: store.Owner{TenantID: "acme", KeyID: "key-1"}, IdempotencyKey: "dup-1",
		TestSpec: spec, AdapterConfig: adapter,
	})
	require.NoError(t, err)

	second, err := repo.Create(ctx, &store.Run{
		Owner: store.Owner{TenantID: "acme", KeyID: "key-1"}, IdempotencyKey: "dup-1",
		TestSpec: spec, AdapterConfig: adapter,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same idempotency key returns the existing run")
}

func TestScenarioRepositoryAggregatePassIffAllPass(t *testing.T) {
	client := testdb.NewTestClient(t)
	runs := store.NewRunRepository(client.DB())
	scenarios := store.NewScenarioRepository(client.DB())
	ctx := context.Background()

	run, err := runs.Create(ctx, &store.Run{
		Owner:         store.Owner{TenantID: "acme", KeyID: "key-1"},
		TestSpec:      store.TestSpec{AudioTests: []string{"echo", "ttfb"}},
		AdapterConfig: store.AdapterConfig{Transport: store.TransportWSVoice},
	})
	require.NoError(t, err)

	require.NoError(t, scenarios.Insert(ctx, run.ID, store.TestResult{Kind: store.ResultAudio, Name: "echo", Status: store.RunPass}))
	agg, err := scenarios.Aggregate(ctx, run.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, store.RunPass, agg.Status)

	require.NoError(t, scenarios.Insert(ctx, run.ID, store.TestResult{Kind: store.ResultAudio, Name: "ttfb", Status: store.RunFail}))
	agg, err = scenarios.Aggregate(ctx, run.ID, 2000)
	require.NoError(t, err)
	assert.Equal(t, store.RunFail, agg.Status, "one failing sub-result fails the whole run")
	assert.Equal(t, 2, agg.TotalTests)
}

func TestImageRepositoryTryClaimBuildAtMostOnce(t *testing.T) {
	client := testdb.NewTestClient(t)
	repo := store.NewImageRepository(client.DB())
	ctx := context.Background()

	claimed1, err := repo.TryClaimBuild(ctx, "hash-1", "", "base:latest")
	require.NoError(t, err)
	assert.True(t, claimed1)

	claimed2, err := repo.TryClaimBuild(ctx, "hash-1", "", "base:latest")
	require.NoError(t, err)
	assert.False(t, claimed2, "a second builder must not win the race")
}
