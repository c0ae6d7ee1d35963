// Package manager implements the quiescence detector and stream
// registry shared by every step in a pipeline run. Grounded on the
// teacher's read-path replay shape (GetStreamMessages feeding an SSE
// backfill) repurposed here to rehydrate subscriber queues instead of
// an HTTP response, and on its per-namespace writeMu idiom for the
// single lock guarding idle/active bookkeeping.
package manager

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/cascadeflow/cascadeflow/internal/store"
	"github.com/cascadeflow/cascadeflow/internal/stream"
	"github.com/cascadeflow/cascadeflow/internal/telemetry"
)

// Manager tracks the streams and worker-level liveness state for one
// engine run and fires a single completion signal once every
// registered worker is idle and every stream is empty.
type Manager struct {
	st  store.Store
	mtr *telemetry.Metrics

	mu         sync.Mutex
	streams    map[string]*stream.Stream
	registered map[string]struct{}
	idle       map[string]struct{}

	completeOnce sync.Once
	completeCh   chan struct{}
}

// New constructs a Manager backed by st.
func New(st store.Store) *Manager {
	return &Manager{
		st:         st,
		streams:    make(map[string]*stream.Stream),
		registered: make(map[string]struct{}),
		idle:       make(map[string]struct{}),
		completeCh: make(chan struct{}),
	}
}

// SetMetrics attaches a telemetry sink. Every stream subsequently
// created via GetOrCreateStream reports publishes to it, and each
// worker's idle state (1 idle, 0 active) is reported under its own
// worker id; idle workers are not counted per step.
func (m *Manager) SetMetrics(mtr *telemetry.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mtr = mtr
	for _, s := range m.streams {
		s.SetMetrics(mtr)
	}
}

// GetOrCreateStream returns the named stream, creating it on first
// reference.
func (m *Manager) GetOrCreateStream(name string) *stream.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.streams[name]; ok {
		return s
	}
	s := stream.New(name, m.st)
	if m.mtr != nil {
		s.SetMetrics(m.mtr)
	}
	m.streams[name] = s
	return s
}

// MarkStepActive removes workerID from the idle set, registering it
// if this is its first appearance.
func (m *Manager) MarkStepActive(workerID string) {
	m.mu.Lock()
	m.registered[workerID] = struct{}{}
	delete(m.idle, workerID)
	mtr := m.mtr
	m.mu.Unlock()

	if mtr != nil {
		mtr.StepWorkersIdle.WithLabelValues(workerID).Set(0)
	}
}

// MarkStepIdle adds workerID to the idle set, registering it if this
// is its first appearance, then evaluates the completion predicate.
// Marking idle happens strictly before a worker resumes blocking on
// its input queue, so a predicate that holds at this instant reflects
// a genuinely quiescent system.
func (m *Manager) MarkStepIdle(workerID string) {
	m.mu.Lock()
	m.registered[workerID] = struct{}{}
	m.idle[workerID] = struct{}{}
	done := m.isQuiescentLocked()
	mtr := m.mtr
	m.mu.Unlock()

	if mtr != nil {
		mtr.StepWorkersIdle.WithLabelValues(workerID).Set(1)
	}
	if done {
		m.fireCompletion(mtr)
	}
}

func (m *Manager) isQuiescentLocked() bool {
	if len(m.idle) != len(m.registered) {
		return false
	}
	for _, s := range m.streams {
		if !s.IsEmpty() {
			return false
		}
	}
	return true
}

func (m *Manager) fireCompletion(mtr *telemetry.Metrics) {
	m.completeOnce.Do(func() {
		if mtr != nil {
			mtr.QuiescenceTotal.Inc()
		}
		close(m.completeCh)
	})
}

// Stats is a point-in-time snapshot of the manager's bookkeeping,
// intended for an operator-facing status endpoint.
type Stats struct {
	RegisteredWorkers int
	IdleWorkers       int
	Streams           int
}

// Stats returns a snapshot of the manager's current state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		RegisteredWorkers: len(m.registered),
		IdleWorkers:       len(m.idle),
		Streams:           len(m.streams),
	}
}

// WaitForCompletion blocks until the completion predicate has fired
// or ctx is cancelled.
func (m *Manager) WaitForCompletion(ctx context.Context) error {
	select {
	case <-m.completeCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RestoreState lists every stream known to storage and replays its
// persisted messages through Stream.Publish(persist=false), rehydrating
// subscriber queues built during step setup. Must run after every step
// has registered its subscriptions and before any worker starts
// receiving.
func (m *Manager) RestoreState(ctx context.Context) error {
	names, err := m.st.ListStreams(ctx)
	if err != nil {
		return errors.Wrap(err, "manager: restore_state: list streams")
	}

	for _, name := range names {
		s := m.GetOrCreateStream(name)

		messages, err := m.st.ListMessages(ctx, name)
		if err != nil {
			return errors.Wrapf(err, "manager: restore_state: list messages for stream %q", name)
		}
		for _, msg := range messages {
			if err := s.Publish(ctx, msg, false); err != nil {
				return errors.Wrapf(err, "manager: restore_state: replay into stream %q", name)
			}
		}
	}
	return nil
}

// CloseAllStreamSetup marks every known stream as no longer accepting
// subscription registration, called once the engine begins running
// step workers.
func (m *Manager) CloseAllStreamSetup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.streams {
		s.CloseSetup()
	}
}
