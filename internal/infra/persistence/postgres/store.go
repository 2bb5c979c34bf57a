// Package postgres provides a Postgres-backed feature store that mirrors the
// in-memory layer semantics, snapshotting each layer into a JSONB column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/go-faster/errors"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"tomscore/internal/infra/persistence/memory"
	"tomscore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Layer[domain.Restriction] = (*Layer[domain.Restriction])(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/tomscore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store owns the Postgres handle shared by every layer opened from it.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres store using dsn (falls back to DefaultDSN) and
// ensures the layers table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	if err := ensureLayersTable(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureLayersTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS layers (
		name TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "ensure layers table")
	}
	return nil
}

func (s *Store) load(ctx context.Context, name string) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, payload FROM layers WHERE name = $1`, name)
	if err != nil {
		return nil, errors.Wrap(err, "select layers")
	}
	defer func() { _ = rows.Close() }()
	var payload []byte
	for rows.Next() {
		var got string
		var raw []byte
		if err := rows.Scan(&got, &raw); err != nil {
			return nil, errors.Wrap(err, "scan layer")
		}
		if got == name {
			payload = raw
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate layers")
	}
	return payload, nil
}

func (s *Store) save(ctx context.Context, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO layers(name,payload) VALUES($1,$2) ON CONFLICT(name) DO UPDATE SET payload=EXCLUDED.payload`, name, payload); err != nil {
		return errors.Wrapf(err, "upsert %s", name)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	committed = true
	return nil
}

// Layer is an in-memory layer whose commits are written through to Postgres.
type Layer[T domain.Entity[T]] struct {
	*memory.Layer[T]
	store *Store
}

// OpenLayer hydrates the named layer from its stored snapshot.
func OpenLayer[T domain.Entity[T]](ctx context.Context, s *Store, name string) (*Layer[T], error) {
	l := &Layer[T]{store: s}
	l.Layer = memory.NewLayer[T](name, memory.WithPersister[T](l.persist))
	payload, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		var snapshot memory.Snapshot[T]
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return nil, errors.Wrapf(err, "decode %s", name)
		}
		l.ImportState(snapshot)
	}
	return l, nil
}

func (l *Layer[T]) persist(ctx context.Context, name string, snapshot memory.Snapshot[T]) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	return l.store.save(ctx, name, data)
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
