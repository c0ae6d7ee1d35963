package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeflow/cascadeflow/internal/store"
)

// requirePostgres skips the test unless CASCADEFLOW_TEST_POSTGRES_URL is
// set, so the default test run never requires a live database.
func requirePostgres(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CASCADEFLOW_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CASCADEFLOW_TEST_POSTGRES_URL not set, skipping postgres integration test")
	}

	s, err := Open(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_StoreAndGet(t *testing.T) {
	ctx := context.Background()
	s := requirePostgres(t)

	msg := &store.Message{CascadeID: "src:count=0", Payload: "a", Metadata: map[string]any{"source_step": "src"}}
	require.NoError(t, s.Store(ctx, "X", msg))

	got, err := s.Get(ctx, "src:count=0")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Payload)
}

func TestStore_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := requirePostgres(t)

	msg := &store.Message{CascadeID: "src:count=1", Payload: "a"}
	require.NoError(t, s.Store(ctx, "X", msg))

	err := s.Store(ctx, "X", msg)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}
