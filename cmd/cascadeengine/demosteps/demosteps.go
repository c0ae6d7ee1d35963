// Package demosteps bundles a handful of trivial step collaborators
// used by the cascadeengine demo binary's pipeline.yaml. Real
// deployments supply their own Generator/Processor/Sinker
// implementations; these exist only to give the demo something to run
// end to end.
package demosteps

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Counter is a Generator producing "item-N" for N in [0, count).
type Counter struct {
	Prefix string
}

func (c *Counter) Generate(_ context.Context, index int) (any, error) {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "item"
	}
	return fmt.Sprintf("%s-%d", prefix, index), nil
}

// Uppercase is a Processor that upper-cases string payloads.
type Uppercase struct{}

func (Uppercase) Process(_ context.Context, _ string, payload any) (any, error) {
	s, ok := payload.(string)
	if !ok {
		return nil, fmt.Errorf("demosteps: uppercase expects a string payload, got %T", payload)
	}
	return strings.ToUpper(s), nil
}

// StdoutSink is a Sinker that logs every message it receives via the
// process-wide zerolog logger.
type StdoutSink struct{}

func (StdoutSink) Sink(_ context.Context, cascadeID string, payload any) error {
	log.Info().Str("cascade_id", cascadeID).Interface("payload", payload).Msg("sink")
	return nil
}
