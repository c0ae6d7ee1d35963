// Package store defines the durable storage contract for cascadeflow: a
// map from (stream, cascade id) to message, with point existence checks,
// stream-agnostic lookup (for unroll), and insertion-ordered listing (for
// recovery replay).
//
// Three interchangeable backends implement Store: store/sqlite (embedded,
// single-file), store/postgres (jackc/pgx, for shared/production
// deployments), and store/pebble (embedded KV, no SQL dependency at all).
// All three enforce the same uniqueness and ordering guarantees, so a
// pipeline built against the interface never needs to know which one is
// behind it.
package store

import (
	"context"
	"time"
)

// Message is the immutable unit of data flowing through a stream: a
// cascade id, an opaque JSON-serialisable payload, and string-keyed JSON
// metadata (conventionally including "source_step").
type Message struct {
	CascadeID string
	Payload   any
	Metadata  map[string]any
	CreatedAt time.Time
}

// Store is the durable backing map for every stream in a pipeline.
type Store interface {
	// Exists reports whether (stream, cascadeID) has already been
	// persisted. Steps must call this before publishing so no step ever
	// emits the same cascade id twice into the same stream.
	Exists(ctx context.Context, stream, cascadeID string) (bool, error)

	// Store persists msg under stream. It returns ErrAlreadyExists if
	// the (stream, cascade id) key is already present; callers that
	// exists-checked first should never observe this in practice.
	Store(ctx context.Context, stream string, msg *Message) error

	// Get performs a stream-agnostic point lookup by cascade id, used
	// by unroll to recover ancestor payloads without knowing which
	// stream they live in.
	Get(ctx context.Context, cascadeID string) (*Message, error)

	// ListMessages returns every message persisted under stream in
	// ascending insertion order, used by manager.RestoreState to
	// rehydrate subscriber queues on startup.
	ListMessages(ctx context.Context, stream string) ([]*Message, error)

	// ListStreams returns the distinct stream names that have at least
	// one persisted message.
	ListStreams(ctx context.Context) ([]string, error)

	// Close releases the backend's resources. The store must not be
	// used after Close returns.
	Close() error
}
