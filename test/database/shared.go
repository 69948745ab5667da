package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voiceci/voiceci/pkg/database"
	"github.com/voiceci/voiceci/test/util"
)

// SharedTestDB is a single schema shared by multiple test replicas, each
// with its own connection pool — used by multi-worker scheduler tests that
// exercise Postgres LISTEN/NOTIFY fan-out across "pods" within one test.
type SharedTestDB struct {
	connStr string
}

// NewSharedTestDB creates a shared schema and applies migrations once.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	connStr := util.NewTestSchema(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := database.NewClient(ctx, database.Config{DSN: connStr, MaxOpenConns: 5, MaxIdleConns: 2})
	require.NoError(t, err)
	_ = client.Close() // migrations applied; each replica opens its own pool below

	return &SharedTestDB{connStr: connStr}
}

// NewClient creates an independent *database.Client backed by its own
// connection pool to the shared schema.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := database.NewClient(ctx, database.Config{
		DSN: s.connStr, MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// ConnString exposes the raw connection string for components (like the
// Postgres LISTEN/NOTIFY listener) that need a dedicated, non-pooled
// *pgx.Conn rather than a *sql.DB.
func (s *SharedTestDB) ConnString() string { return s.connStr }
