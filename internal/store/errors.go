package store

import "github.com/cockroachdb/errors"

var (
	// ErrAlreadyExists occurs when Store is called with a (stream,
	// cascade id) key that is already present. Steps are required to
	// Exists-check before publishing, so this surfacing at all
	// indicates a caller bug.
	ErrAlreadyExists = errors.New("store: message already exists for stream and cascade id")

	// ErrNotFound occurs when Get is called with a cascade id that has
	// no persisted message in any stream.
	ErrNotFound = errors.New("store: no message found for cascade id")

	// ErrClosed names the error of using a store after Close. None of
	// the backends in this module returns it: an operation after Close
	// fails with the backend's own error instead.
	ErrClosed = errors.New("store: store is closed")
)
