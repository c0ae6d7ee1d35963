// Package postgres implements store.Store on PostgreSQL via jackc/pgx/v5,
// for deployments that want a shared, production-grade backend instead of
// an embedded file. One plain messages table per database, with an
// ordinary unique-violation check standing in for an existence check.
package postgres

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cascadeflow/cascadeflow/internal/migrate"
	"github.com/cascadeflow/cascadeflow/internal/store"
	"github.com/cascadeflow/cascadeflow/migrations"
)

// postgresUniqueViolation is the SQLSTATE code Postgres returns for a
// unique constraint violation.
const postgresUniqueViolation = "23505"

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to connString, runs pending migrations, and returns a
// pool-backed Store. Migrations run over a throwaway database/sql
// handle (pgx's stdlib driver) so the same migrate package and embedded
// schema used by the sqlite backend applies here too; the long-lived
// pgxpool.Pool is opened separately for the store's own queries.
func Open(ctx context.Context, connString string) (*Store, error) {
	if err := runMigrations(ctx, connString); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: failed to open connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: failed to ping database")
	}

	return &Store{pool: pool}, nil
}

func runMigrations(ctx context.Context, connString string) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return errors.Wrap(err, "postgres: failed to open migration handle")
	}
	defer db.Close()

	migrator := migrate.New(db, "postgres", migrations.PostgresFS, "postgres").WithContext(ctx)
	if err := migrator.AutoMigrate(); err != nil {
		return errors.Wrap(err, "postgres: failed to run migrations")
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Exists(ctx context.Context, stream, cascadeID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE stream_name = $1 AND cascade_id = $2)`,
		stream, cascadeID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "postgres: exists query failed")
	}
	return exists, nil
}

func (s *Store) Store(ctx context.Context, stream string, msg *store.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (stream_name, cascade_id, payload, metadata) VALUES ($1, $2, $3, $4)`,
		stream, msg.CascadeID, msg.Payload, msg.Metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation {
			return store.ErrAlreadyExists
		}
		return errors.Wrap(err, "postgres: failed to insert message")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, cascadeID string) (*store.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT payload, metadata, created_at FROM messages WHERE cascade_id = $1 LIMIT 1`,
		cascadeID,
	)
	msg, err := scanMessage(cascadeID, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "postgres: get query failed")
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, stream string) ([]*store.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cascade_id, payload, metadata, created_at FROM messages WHERE stream_name = $1 ORDER BY created_at ASC`,
		stream,
	)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list messages query failed")
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var payload, metadata any
		if err := rows.Scan(&msg.CascadeID, &payload, &metadata, &msg.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "postgres: scan failed")
		}
		msg.Payload = payload
		if metadata != nil {
			if m, ok := metadata.(map[string]any); ok {
				msg.Metadata = m
			}
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func (s *Store) ListStreams(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT stream_name FROM messages`)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list streams query failed")
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "postgres: scan failed")
		}
		streams = append(streams, name)
	}
	return streams, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(cascadeID string, row rowScanner) (*store.Message, error) {
	var msg store.Message
	msg.CascadeID = cascadeID
	var payload, metadata any
	if err := row.Scan(&payload, &metadata, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Payload = payload
	if metadata != nil {
		if m, ok := metadata.(map[string]any); ok {
			msg.Metadata = m
		}
	}
	return &msg, nil
}

var _ store.Store = (*Store)(nil)
