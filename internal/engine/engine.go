// Package engine wires together storage, the manager, and a pipeline's
// steps into one runnable unit: restore persisted state, run every step
// concurrently, wait for quiescence, cancel, shut down in reverse order.
package engine

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cascadeflow/cascadeflow/internal/logger"
	"github.com/cascadeflow/cascadeflow/internal/manager"
	"github.com/cascadeflow/cascadeflow/internal/step"
	"github.com/cascadeflow/cascadeflow/internal/store"
)

// ErrAlreadyRegistered is returned by Register when a step name has
// already been registered with this engine.
var ErrAlreadyRegistered = errors.New("engine: step already registered")

// Engine owns one storage handle, one manager, and the list of steps
// that make up a pipeline run.
type Engine struct {
	projectName string
	store       store.Store
	manager     *manager.Manager

	mu    sync.Mutex
	steps []step.Step
	names map[string]struct{}
}

// New constructs an Engine named projectName backed by st. The caller
// retains ownership of st and is responsible for closing it after Run
// returns.
func New(projectName string, st store.Store) *Engine {
	return &Engine{
		projectName: projectName,
		store:       st,
		manager:     manager.New(st),
		names:       make(map[string]struct{}),
	}
}

// ProjectName returns the engine's project name.
func (e *Engine) ProjectName() string { return e.projectName }

// Manager returns the engine's manager, for callers that need to wire
// telemetry or expose status before steps are registered.
func (e *Engine) Manager() *manager.Manager { return e.manager }

// Register runs s's Setup against the engine's manager and appends it
// to the pipeline. Steps must be registered before Run is called.
func (e *Engine) Register(s step.Step) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.names[s.Name()]; dup {
		return errors.Wrapf(ErrAlreadyRegistered, "step %q", s.Name())
	}
	if err := s.Setup(e.manager); err != nil {
		return errors.Wrapf(err, "engine: setup step %q", s.Name())
	}

	e.names[s.Name()] = struct{}{}
	e.steps = append(e.steps, s)
	return nil
}

// Run rehydrates state from storage, runs every registered step until
// the pipeline reaches quiescence, then cancels and shuts every step
// down. Run blocks until shutdown completes.
func (e *Engine) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if err := e.manager.RestoreState(ctx); err != nil {
		return errors.Wrap(err, "engine: restore_state")
	}
	e.manager.CloseAllStreamSetup()

	runCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)

	e.mu.Lock()
	steps := make([]step.Step, len(e.steps))
	copy(steps, e.steps)
	e.mu.Unlock()

	for _, s := range steps {
		s := s
		g.Go(func() error {
			if err := s.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("step", s.Name()).Msg("step run failed")
				return err
			}
			return nil
		})
	}

	waitErr := e.manager.WaitForCompletion(ctx)
	cancel()

	runErr := g.Wait()

	var shutdownErr error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if err := s.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrapf(err, "engine: shutdown step %q", s.Name())
			log.Error().Err(err).Str("step", s.Name()).Msg("step shutdown failed")
		}
	}

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return errors.Wrap(waitErr, "engine: wait_for_completion")
	}
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}
