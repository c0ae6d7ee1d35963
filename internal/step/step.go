// Package step implements the three step shapes a pipeline is built
// from (source, transform, sink) sharing the setup -> run -> shutdown
// lifecycle. User code supplies the per-step behaviour (Generate,
// Process, Sink, optional Setup) as plain interfaces; concrete step
// bodies live outside this package entirely.
package step

import (
	"context"

	"github.com/cascadeflow/cascadeflow/internal/manager"
)

// Step is the common lifecycle every pipeline stage implements.
type Step interface {
	// Name returns the step's declared name, used to build worker ids
	// and cascade-id tokens.
	Name() string

	// Setup resolves the step's ports against mgr, registering
	// subscriptions as needed, then calls the step's optional custom
	// initialiser.
	Setup(mgr *manager.Manager) error

	// Run executes the step's main loop until ctx is cancelled or (for
	// a source) its work is exhausted.
	Run(ctx context.Context) error

	// Shutdown releases any resources acquired during Setup or Run.
	Shutdown(ctx context.Context) error
}

// Generator is implemented by user code driving a Source step.
type Generator interface {
	// Generate produces the next payload, or (nil, nil) to indicate
	// this iteration has nothing to emit.
	Generate(ctx context.Context, index int) (any, error)
}

// Processor is implemented by user code driving a Transform step.
type Processor interface {
	// Process handles one input message. A non-nil payload is
	// published automatically under the derived output cascade id. A
	// Process that publishes directly (e.g. fan-out) should return
	// (nil, nil) and is responsible for its own idempotence checks.
	Process(ctx context.Context, cascadeID string, payload any) (any, error)
}

// Sinker is implemented by user code driving a Sink step.
type Sinker interface {
	// Sink consumes one message with no further output.
	Sink(ctx context.Context, cascadeID string, payload any) error
}

// Setuper is an optional hook any of the three user collaborators may
// additionally implement for parameter validation and resource
// preparation; it runs at the end of Setup.
type Setuper interface {
	Setup() error
}

// Closer is an optional hook any of the three user collaborators may
// additionally implement to release resources acquired in Setuper.
type Closer interface {
	Close() error
}

func callOptionalSetup(v any) error {
	if s, ok := v.(Setuper); ok {
		return s.Setup()
	}
	return nil
}

func callOptionalClose(v any) error {
	if c, ok := v.(Closer); ok {
		return c.Close()
	}
	return nil
}
