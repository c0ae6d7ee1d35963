package step

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cascadeflow/cascadeflow/cascade"
	"github.com/cascadeflow/cascadeflow/internal/logger"
	"github.com/cascadeflow/cascadeflow/internal/manager"
	"github.com/cascadeflow/cascadeflow/internal/store"
	"github.com/cascadeflow/cascadeflow/internal/stream"
)

// Transform receives from one weighted input subscription and
// publishes a derived message per input, running parallel independent
// workers over the shared subscription.
type Transform struct {
	name     string
	input    string
	output   string
	parallel int
	proc     Processor
	st       store.Store

	mgr          *manager.Manager
	inputStream  *stream.Stream
	outputStream *stream.Stream
	sub          *stream.Subscription
}

// NewTransform constructs a transform step named name, subscribing to
// the input port (a "<stream>:<weight>" or bare "<stream>" spec),
// publishing to the output port, running parallel independent workers
// (minimum 1), driven by proc. proc may additionally implement Setuper
// and Closer.
func NewTransform(name, input, output string, parallel int, proc Processor, st store.Store) *Transform {
	if parallel <= 0 {
		parallel = 1
	}
	return &Transform{name: name, input: input, output: output, parallel: parallel, proc: proc, st: st}
}

func (t *Transform) Name() string { return t.name }

func (t *Transform) Setup(mgr *manager.Manager) error {
	inputName, weight, err := ParsePort(t.input)
	if err != nil {
		return errors.Wrapf(err, "transform %q: input port", t.name)
	}
	outputName, _, err := ParsePort(t.output)
	if err != nil {
		return errors.Wrapf(err, "transform %q: output port", t.name)
	}

	t.mgr = mgr
	t.inputStream = mgr.GetOrCreateStream(inputName)
	t.outputStream = mgr.GetOrCreateStream(outputName)

	t.sub, err = t.inputStream.RegisterSubscription(weight)
	if err != nil {
		return errors.Wrapf(err, "transform %q: register subscription", t.name)
	}

	return callOptionalSetup(t.proc)
}

func (t *Transform) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for k := 0; k < t.parallel; k++ {
		sub := t.sub
		workerID := fmt.Sprintf("%s:worker%d", t.name, k)
		g.Go(func() error {
			return t.runWorker(ctx, workerID, sub)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (t *Transform) runWorker(ctx context.Context, workerID string, sub *stream.Subscription) error {
	for {
		t.mgr.MarkStepIdle(workerID)

		msg, err := sub.Receive(ctx)
		if err != nil {
			return nil
		}

		t.mgr.MarkStepActive(workerID)

		outID, err := cascade.Derive(msg.CascadeID, t.name, nil)
		if err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("step", t.name).Str("worker", workerID).Msg("derive failed")
			continue
		}

		payload, err := t.proc.Process(ctx, msg.CascadeID, msg.Payload)
		if err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("step", t.name).Str("worker", workerID).Msg("process failed")
			continue
		}
		if payload == nil {
			continue
		}

		exists, err := t.st.Exists(ctx, t.outputStream.Name(), outID)
		if err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("step", t.name).Str("worker", workerID).Msg("exists check failed")
			continue
		}
		if exists {
			continue
		}

		out := &store.Message{
			CascadeID: outID,
			Payload:   payload,
			Metadata:  map[string]any{"source_step": t.name},
		}
		if err := t.outputStream.Publish(ctx, out, true); err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("step", t.name).Str("worker", workerID).Msg("publish failed")
			continue
		}
	}
}

func (t *Transform) Shutdown(_ context.Context) error {
	return callOptionalClose(t.proc)
}
