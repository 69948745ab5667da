// Package database provides a real-Postgres test client for integration
// tests, backed by testcontainers-go the way the teacher's test/database
// package is, minus the ent-specific wiring (see DESIGN.md).
package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voiceci/voiceci/pkg/database"
	"github.com/voiceci/voiceci/test/util"
)

// NewTestClient creates a fresh schema on the shared test container (or
// CI_DATABASE_URL) and returns a *database.Client with migrations applied.
// The schema and connection pool are cleaned up via t.Cleanup.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	connStr := util.NewTestSchema(t)

	client, err := database.NewClient(ctx, database.Config{
		DSN:             connStr,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })
	return client
}
