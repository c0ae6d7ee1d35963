package step

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/cascadeflow/cascadeflow/internal/logger"
	"github.com/cascadeflow/cascadeflow/internal/manager"
	"github.com/cascadeflow/cascadeflow/internal/store"
	"github.com/cascadeflow/cascadeflow/internal/stream"
)

// Source generates a fixed-count run of messages into its output
// stream, skipping any cascade id already persisted so repeated runs
// are idempotent.
type Source struct {
	name   string
	output string
	count  int
	gen    Generator
	st     store.Store

	mgr          *manager.Manager
	outputStream *stream.Stream
}

// NewSource constructs a source step named name, publishing to the
// output port (a bare stream name), emitting count messages, driven by
// gen. gen may additionally implement Setuper and Closer.
func NewSource(name, output string, count int, gen Generator, st store.Store) *Source {
	if count <= 0 {
		count = 1
	}
	return &Source{name: name, output: output, count: count, gen: gen, st: st}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Setup(mgr *manager.Manager) error {
	streamName, _, err := ParsePort(s.output)
	if err != nil {
		return errors.Wrapf(err, "source %q: output port", s.name)
	}
	s.outputStream = mgr.GetOrCreateStream(streamName)
	s.mgr = mgr
	return callOptionalSetup(s.gen)
}

func (s *Source) Run(ctx context.Context) error {
	s.mgr.MarkStepActive(s.name)
	defer s.mgr.MarkStepIdle(s.name)

	for i := 0; i < s.count; i++ {
		id := fmt.Sprintf("%s:count=%d", s.name, i)

		exists, err := s.st.Exists(ctx, s.outputStream.Name(), id)
		if err != nil {
			return errors.Wrapf(err, "source %q: exists check for %q", s.name, id)
		}
		if exists {
			continue
		}

		payload, err := s.gen.Generate(ctx, i)
		if err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("step", s.name).Int("index", i).Msg("source generate failed")
			continue
		}
		if payload == nil {
			continue
		}

		msg := &store.Message{
			CascadeID: id,
			Payload:   payload,
			Metadata:  map[string]any{"source_step": s.name},
		}
		if err := s.outputStream.Publish(ctx, msg, true); err != nil {
			return errors.Wrapf(err, "source %q: publish %q", s.name, id)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (s *Source) Shutdown(_ context.Context) error {
	return callOptionalClose(s.gen)
}
