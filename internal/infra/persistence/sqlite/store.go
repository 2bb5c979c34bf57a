// Package sqlite persists feature layers to a single SQLite table, one JSON
// snapshot per layer, written before every commit is applied in memory.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"tomscore/internal/infra/persistence/memory"
	"tomscore/pkg/domain"
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "tomscore.db"

// Store owns the SQLite handle shared by every layer opened from it.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and ensures the layers table.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, errors.Wrap(err, "create dirs")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS layers (
		name TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create layers table")
	}
	return &Store{db: db, path: path}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) load(ctx context.Context, name string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM layers WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "select layer %s", name)
	}
	return payload, true, nil
}

func (s *Store) save(ctx context.Context, name string, payload []byte) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO layers(name,payload) VALUES(?,?) ON CONFLICT(name) DO UPDATE SET payload=excluded.payload`, name, payload); err != nil {
		return errors.Wrapf(err, "upsert %s", name)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// Layer is an in-memory layer whose commits are written through to SQLite.
type Layer[T domain.Entity[T]] struct {
	*memory.Layer[T]
	store *Store
}

// OpenLayer hydrates the named layer from its stored snapshot.
func OpenLayer[T domain.Entity[T]](ctx context.Context, s *Store, name string) (*Layer[T], error) {
	l := &Layer[T]{store: s}
	l.Layer = memory.NewLayer[T](name, memory.WithPersister[T](l.persist))
	payload, ok, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	if ok {
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
