// Package pebble implements store.Store on an embedded cockroachdb/pebble
// key-value store, for deployments that want no SQL dependency at all.
// Three key families are kept: a primary message key, a
// created-at-ordered secondary index for insertion-ordered listing, and
// a cascade-id-to-stream index for stream-agnostic lookup.
package pebble

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/cascadeflow/cascadeflow/internal/store"
)

// compressionThreshold is the payload size above which values are S2
// compressed before being written.
const compressionThreshold = 512

// Store is a Pebble-backed store.Store.
type Store struct {
	db      *pebble.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the Pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "pebble: failed to open database")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Exists(_ context.Context, stream, cascadeID string) (bool, error) {
	_, closer, err := s.db.Get(messageKey(stream, cascadeID))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "pebble: exists lookup failed")
	}
	closer.Close()
	return true, nil
}

func (s *Store) Store(ctx context.Context, stream string, msg *store.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	record, err := encodeRecord(msg.Payload, msg.Metadata, createdAt)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	exists, err := s.Exists(ctx, stream, msg.CascadeID)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrAlreadyExists
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(messageKey(stream, msg.CascadeID), record, nil); err != nil {
		return errors.Wrap(err, "pebble: failed to stage message write")
	}
	if err := batch.Set(listIndexKey(stream, createdAt.UnixNano(), msg.CascadeID), []byte(msg.CascadeID), nil); err != nil {
		return errors.Wrap(err, "pebble: failed to stage list index write")
	}
	if err := batch.Set(globalKey(msg.CascadeID), []byte(stream), nil); err != nil {
		return errors.Wrap(err, "pebble: failed to stage global index write")
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "pebble: failed to commit write batch")
	}
	return nil
}

func (s *Store) Get(_ context.Context, cascadeID string) (*store.Message, error) {
	streamBytes, closer, err := s.db.Get(globalKey(cascadeID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "pebble: global index lookup failed")
	}
	stream := string(streamBytes)
	closer.Close()

	raw, closer, err := s.db.Get(messageKey(stream, cascadeID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "pebble: message lookup failed")
	}
	defer closer.Close()

	return decodeRecord(cascadeID, raw)
}

func (s *Store) ListMessages(_ context.Context, stream string) ([]*store.Message, error) {
	prefix := listIndexPrefix(stream)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "pebble: failed to open list iterator")
	}
	defer iter.Close()

	var messages []*store.Message
	for valid := iter.First(); valid; valid = iter.Next() {
		cascadeID := string(iter.Value())
		raw, closer, err := s.db.Get(messageKey(stream, cascadeID))
		if err != nil {
			return nil, errors.Wrap(err, "pebble: failed to load indexed message")
		}
		msg, err := decodeRecord(cascadeID, raw)
		closer.Close()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, iter.Error()
}

func (s *Store) ListStreams(_ context.Context) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixMessage),
		UpperBound: prefixUpperBound([]byte(prefixMessage)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "pebble: failed to open stream iterator")
	}
	defer iter.Close()

	seen := make(map[string]struct{})
	var streams []string
	for valid := iter.First(); valid; valid = iter.Next() {
		key := string(iter.Key())
		stream, _, ok := strings.Cut(strings.TrimPrefix(key, prefixMessage), keySeparator)
		if !ok {
			continue
		}
		if _, dup := seen[stream]; dup {
			continue
		}
		seen[stream] = struct{}{}
		streams = append(streams, stream)
	}
	return streams, iter.Error()
}

var _ store.Store = (*Store)(nil)
