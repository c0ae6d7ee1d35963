package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeflow/cascadeflow/internal/store"
)

type memStore struct {
	messages map[string]map[string]*store.Message
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[string]map[string]*store.Message)}
}

func (m *memStore) Exists(_ context.Context, stream string, cascadeID string) (bool, error) {
	_, ok := m.messages[stream][cascadeID]
	return ok, nil
}

func (m *memStore) Store(_ context.Context, stream string, msg *store.Message) error {
	if m.messages[stream] == nil {
		m.messages[stream] = make(map[string]*store.Message)
	}
	if _, ok := m.messages[stream][msg.CascadeID]; ok {
		return store.ErrAlreadyExists
	}
	m.messages[stream][msg.CascadeID] = msg
	return nil
}

func (m *memStore) Get(_ context.Context, cascadeID string) (*store.Message, error) {
	for _, byID := range m.messages {
		if msg, ok := byID[cascadeID]; ok {
			return msg, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListMessages(_ context.Context, stream string) ([]*store.Message, error) {
	var out []*store.Message
	for _, msg := range m.messages[stream] {
		out = append(out, msg)
	}
	return out, nil
}

func (m *memStore) ListStreams(_ context.Context) ([]string, error) {
	var names []string
	for name := range m.messages {
		names = append(names, name)
	}
	return names, nil
}

func (m *memStore) Close() error { return nil }

func TestManager_GetOrCreateStreamIsIdempotent(t *testing.T) {
	mgr := New(newMemStore())
	a := mgr.GetOrCreateStream("X")
	b := mgr.GetOrCreateStream("X")
	assert.Same(t, a, b)
}

func TestManager_CompletionFiresOnlyWhenAllIdleAndStreamsEmpty(t *testing.T) {
	mgr := New(newMemStore())
	s := mgr.GetOrCreateStream("X")
	sub, err := s.RegisterSubscription(0)
	require.NoError(t, err)

	mgr.MarkStepActive("source")
	mgr.MarkStepActive("sink")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mgr.WaitForCompletion(ctx), context.DeadlineExceeded)

	require.NoError(t, s.Publish(context.Background(), &store.Message{CascadeID: "a"}, false))
	mgr.MarkStepIdle("source")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, mgr.WaitForCompletion(ctx2), context.DeadlineExceeded, "stream still has an undelivered message")

	_, err = sub.Receive(context.Background())
	require.NoError(t, err)
	mgr.MarkStepIdle("sink")

	ctx3, cancel3 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel3()
	assert.NoError(t, mgr.WaitForCompletion(ctx3))
}

func TestManager_MarkActiveRemovesFromIdle(t *testing.T) {
	mgr := New(newMemStore())
	mgr.MarkStepIdle("worker0")
	mgr.MarkStepActive("worker0")

	assert.NotContains(t, mgr.idle, "worker0")
	assert.Contains(t, mgr.registered, "worker0")
}

func TestManager_RestoreStateReplaysMessagesIntoStreams(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.Store(context.Background(), "X", &store.Message{CascadeID: "src:count=0"}))
	require.NoError(t, st.Store(context.Background(), "X", &store.Message{CascadeID: "src:count=1"}))

	mgr := New(st)
	s := mgr.GetOrCreateStream("X")
	sub, err := s.RegisterSubscription(0)
	require.NoError(t, err)

	require.NoError(t, mgr.RestoreState(context.Background()))

	assert.False(t, s.IsEmpty())
	_, err = sub.Receive(context.Background())
	require.NoError(t, err)
	_, err = sub.Receive(context.Background())
	require.NoError(t, err)
}
