package unroll

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeflow/cascadeflow/cascade"
	"github.com/cascadeflow/cascadeflow/internal/store"
)

type memStore struct {
	byID map[string]*store.Message
}

func newMemStore() *memStore { return &memStore{byID: make(map[string]*store.Message)} }

func (m *memStore) put(id string, payload any) {
	m.byID[id] = &store.Message{CascadeID: id, Payload: payload}
}

func (m *memStore) Exists(_ context.Context, _ string, cascadeID string) (bool, error) {
	_, ok := m.byID[cascadeID]
	return ok, nil
}

func (m *memStore) Store(_ context.Context, _ string, msg *store.Message) error {
	m.byID[msg.CascadeID] = msg
	return nil
}

func (m *memStore) Get(_ context.Context, cascadeID string) (*store.Message, error) {
	msg, ok := m.byID[cascadeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return msg, nil
}

func (m *memStore) ListMessages(_ context.Context, _ string) ([]*store.Message, error) { return nil, nil }
func (m *memStore) ListStreams(_ context.Context) ([]string, error)                    { return nil, nil }
func (m *memStore) Close() error                                                       { return nil }

func TestUnroll_LinearPath(t *testing.T) {
	st := newMemStore()
	st.put("src:count=0", "a")
	st.put("src:count=0/up", "A")

	ctx := context.Background()
	result, err := Unroll(ctx, st, "src:count=0/up")
	require.NoError(t, err)

	assert.Equal(t, "a", result["src"])
	assert.Equal(t, "A", result["up"])
}

func TestUnroll_RepeatedStepNameIsSuffixed(t *testing.T) {
	st := newMemStore()
	st.put("src:count=0", "a")
	st.put("src:count=0/up", "A")
	st.put("src:count=0/up/up", "AA")

	ctx := context.Background()
	result, err := Unroll(ctx, st, "src:count=0/up/up")
	require.NoError(t, err)

	assert.Equal(t, "a", result["src"])
	assert.Equal(t, "A", result["up"])
	assert.Equal(t, "AA", result["up_0"])
}

func TestUnroll_Merge(t *testing.T) {
	st := newMemStore()
	st.put("p", "payload-p")
	st.put("q", "payload-q")

	merged, err := cascade.Merge([]string{"p", "q"}, "j")
	require.NoError(t, err)
	st.put(merged, "joined")

	ctx := context.Background()
	result, err := Unroll(ctx, st, merged)
	require.NoError(t, err)

	root0, ok := result["root0"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "payload-p", root0["p"])

	root1, ok := result["root1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "payload-q", root1["q"])

	assert.Equal(t, "joined", result["j"])
}

func TestUnroll_MissingAncestorIsSkippedNotError(t *testing.T) {
	st := newMemStore()
	st.put("src:count=0/up", "A")

	ctx := context.Background()
	result, err := Unroll(ctx, st, "src:count=0/up")
	require.NoError(t, err)

	_, hasSrc := result["src"]
	assert.False(t, hasSrc)
	assert.Equal(t, "A", result["up"])
}
