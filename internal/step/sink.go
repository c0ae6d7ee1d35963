package step

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/cascadeflow/cascadeflow/internal/logger"
	"github.com/cascadeflow/cascadeflow/internal/manager"
	"github.com/cascadeflow/cascadeflow/internal/stream"
)

// Sink receives from one input subscription and hands each message to
// user code with no further output.
type Sink struct {
	name  string
	input string
	snk   Sinker

	mgr         *manager.Manager
	inputStream *stream.Stream
	sub         *stream.Subscription
}

// NewSink constructs a sink step named name, subscribing to the input
// port, driven by snk. snk may additionally implement Setuper and
// Closer.
func NewSink(name, input string, snk Sinker) *Sink {
	return &Sink{name: name, input: input, snk: snk}
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) Setup(mgr *manager.Manager) error {
	inputName, weight, err := ParsePort(s.input)
	if err != nil {
		return errors.Wrapf(err, "sink %q: input port", s.name)
	}

	s.mgr = mgr
	s.inputStream = mgr.GetOrCreateStream(inputName)
	s.sub, err = s.inputStream.RegisterSubscription(weight)
	if err != nil {
		return errors.Wrapf(err, "sink %q: register subscription", s.name)
	}
	return callOptionalSetup(s.snk)
}

func (s *Sink) Run(ctx context.Context) error {
	for {
		s.mgr.MarkStepIdle(s.name)

		msg, err := s.sub.Receive(ctx)
		if err != nil {
			return nil
		}

		s.mgr.MarkStepActive(s.name)

		if err := s.snk.Sink(ctx, msg.CascadeID, msg.Payload); err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("step", s.name).Msg("sink failed")
		}
	}
}

func (s *Sink) Shutdown(_ context.Context) error {
	return callOptionalClose(s.snk)
}
