// Package sqlite implements store.Store on an embedded modernc.org/sqlite
// database: one file (or one in-memory database in test mode) per
// project, at the path passed to Open; the file name is not derived from
// the project name. A single write mutex serializes writes; the handle is
// limited to one open connection, so reads also run one at a time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/cascadeflow/cascadeflow/internal/migrate"
	"github.com/cascadeflow/cascadeflow/internal/store"
	"github.com/cascadeflow/cascadeflow/migrations"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	closed  bool
	mu      sync.RWMutex
}

// Open opens (creating if necessary) the SQLite database at path and runs
// pending migrations. Pass "file::memory:?cache=shared" for an ephemeral,
// test-mode store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	migrator := migrate.New(db, "sqlite", migrations.SQLiteFS, "sqlite")
	if err := migrator.AutoMigrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) Exists(ctx context.Context, stream, cascadeID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE stream_name = ? AND cascade_id = ?`,
		stream, cascadeID,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "sqlite: exists query failed")
	}
	return true, nil
}

func (s *Store) Store(ctx context.Context, stream string, msg *store.Message) error {
	payloadJSON, err := json.Marshal(msg.Payload)
	if err != nil {
		return errors.Wrap(err, "sqlite: failed to marshal payload")
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return errors.Wrap(err, "sqlite: failed to marshal metadata")
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (stream_name, cascade_id, payload, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		stream, msg.CascadeID, string(payloadJSON), string(metadataJSON), createdAt.Unix(),
	)
	if err != nil {
		return errors.Wrap(err, "sqlite: failed to insert message")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, cascadeID string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, metadata, created_at FROM messages WHERE cascade_id = ? LIMIT 1`,
		cascadeID,
	)
	msg, err := scanMessage(cascadeID, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: get query failed")
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, stream string) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cascade_id, payload, metadata, created_at FROM messages WHERE stream_name = ? ORDER BY created_at ASC, rowid ASC`,
		stream,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: list messages query failed")
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var cascadeID, payloadJSON, metadataJSON string
		var createdAt int64
		if err := rows.Scan(&cascadeID, &payloadJSON, &metadataJSON, &createdAt); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan failed")
		}
		msg, err := decodeMessage(cascadeID, payloadJSON, metadataJSON, createdAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) ListStreams(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT stream_name FROM messages`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: list streams query failed")
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan failed")
		}
		streams = append(streams, name)
	}
	return streams, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(cascadeID string, row rowScanner) (*store.Message, error) {
	var payloadJSON, metadataJSON string
	var createdAt int64
	if err := row.Scan(&payloadJSON, &metadataJSON, &createdAt); err != nil {
		return nil, err
	}
	return decodeMessage(cascadeID, payloadJSON, metadataJSON, createdAt)
}

func decodeMessage(cascadeID, payloadJSON, metadataJSON string, createdAt int64) (*store.Message, error) {
	var payload any
	if payloadJSON != "" && payloadJSON != "null" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, errors.Wrap(err, "sqlite: failed to unmarshal payload")
		}
	}
	var metadata map[string]any
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, errors.Wrap(err, "sqlite: failed to unmarshal metadata")
		}
	}
	return &store.Message{
		CascadeID: cascadeID,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}, nil
}

var _ store.Store = (*Store)(nil)
