// Package testutil provides the shared integration-test harness: a
// PostgreSQL testcontainer wired through to a ready pkg/store.Store with
// migrations applied.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nexusknowledge/nexusknowledge/pkg/store"
)

// NewTestStore returns a *store.Store backed by a fresh PostgreSQL instance.
// In CI (CI_DATABASE_URL set) it connects to an already-running service
// container; locally it starts a testcontainer. Either way the returned
// store has all migrations applied and is torn down via t.Cleanup.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("CI_DATABASE_URL")
	if dsn == "" {
		t.Log("testutil: starting PostgreSQL testcontainer")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("nexusknowledge_test"),
			postgres.WithUsername("nexusknowledge"),
			postgres.WithPassword("nexusknowledge"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("testutil: failed to terminate container: %v", err)
			}
		})

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("testutil: using CI_DATABASE_URL")
	}

	st, err := store.Open(ctx, store.Config{DSN: dsn, MaxConns: 5})
	require.NoError(t, err)
	t.Cleanup(st.Close)

	return st
}
