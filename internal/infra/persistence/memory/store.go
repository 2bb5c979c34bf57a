// Package memory provides an in-memory implementation of the feature store
// contract used for tests, ephemeral environments and as the working set of
// the durable backends.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"tomscore/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.Layer[domain.Restriction] = (*Layer[domain.Restriction])(nil)
	_ domain.Layer[domain.Membership]  = (*Layer[domain.Membership])(nil)
)

type (
	// Change aliases domain.Change captured in edit sessions.
	Change = domain.Change
	// StoreEvent aliases domain.StoreEvent.
	StoreEvent = domain.StoreEvent
	// Observer aliases domain.Observer.
	Observer = domain.Observer
)

// Snapshot is the serialisable state of a layer.
type Snapshot[T any] struct {
	NextFID int64 `json:"next_fid"`
	Rows    []T   `json:"rows"`
}

// Persister is invoked with the pending state before a commit is applied.
// A non-nil error aborts the commit and leaves the session open.
type Persister[T any] func(ctx context.Context, name string, snapshot Snapshot[T]) error

// Option customises a Layer.
type Option[T domain.Entity[T]] func(*Layer[T])

// WithPersister installs a commit hook.
func WithPersister[T domain.Entity[T]](p Persister[T]) Option[T] {
	return func(l *Layer[T]) { l.persist = p }
}

type layerState[T domain.Entity[T]] struct {
	rows    map[int64]T
	nextFID int64
}

func (s layerState[T]) clone() layerState[T] {
	rows := make(map[int64]T, len(s.rows))
	for k, v := range s.rows {
		rows[k] = v.Clone()
	}
	return layerState[T]{rows: rows, nextFID: s.nextFID}
}

func (s layerState[T]) snapshot() Snapshot[T] {
	out := Snapshot[T]{NextFID: s.nextFID, Rows: make([]T, 0, len(s.rows))}
	for _, fid := range s.sortedKeys() {
		out.Rows = append(out.Rows, s.rows[fid].Clone())
	}
	return out
}

func (s layerState[T]) sortedKeys() []int64 {
	keys := make([]int64, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type session[T domain.Entity[T]] struct {
	state   layerState[T]
	changes []Change
}

// Layer is a named, in-memory collection of records with edit sessions.
// A session works on a cloned row map; commit swaps it in, rollback drops it.
type Layer[T domain.Entity[T]] struct {
	mu        sync.RWMutex
	name      string
	state     layerState[T]
	pending   *session[T]
	persist   Persister[T]
	observers map[int]Observer
	nextObs   int
}

// NewLayer constructs an empty layer.
func NewLayer[T domain.Entity[T]](name string, opts ...Option[T]) *Layer[T] {
	l := &Layer[T]{
		name:      name,
		state:     layerState[T]{rows: make(map[int64]T), nextFID: 1},
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the layer name.
func (l *Layer[T]) Name() string { return l.name }

// ExportState clones the committed state for external persistence.
func (l *Layer[T]) ExportState() Snapshot[T] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.snapshot()
}

// ImportState replaces the committed state. Rows without an FID are assigned one.
func (l *Layer[T]) ImportState(snapshot Snapshot[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := layerState[T]{rows: make(map[int64]T, len(snapshot.Rows)), nextFID: snapshot.NextFID}
	for _, row := range snapshot.Rows {
		if row.Key() >= st.nextFID {
			st.nextFID = row.Key() + 1
		}
	}
	if st.nextFID < 1 {
		st.nextFID = 1
	}
	for _, row := range snapshot.Rows {
		if row.Key() == 0 {
			row = row.WithKey(st.nextFID)
			st.nextFID++
		}
		st.rows[row.Key()] = row.Clone()
	}
	l.state = st
}

// Subscribe registers obs and returns a function removing it.
func (l *Layer[T]) Subscribe(obs Observer) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextObs
	l.nextObs++
	l.observers[id] = obs
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.observers, id)
	}
}

func (l *Layer[T]) emit(kind domain.StoreEventKind, err error) {
	l.mu.RLock()
	ids := make([]int, 0, len(l.observers))
	for id := range l.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	obs := make([]Observer, 0, len(ids))
	for _, id := range ids {
		obs = append(obs, l.observers[id])
	}
	l.mu.RUnlock()
	ev := StoreEvent{Store: l.name, Kind: kind, Err: err}
	for _, o := range obs {
		o(ev)
	}
}

func (l *Layer[T]) fail(op string, err error) error {
	serr := &domain.StoreError{Store: l.name, Op: op, Err: err}
	l.emit(domain.EventError, serr)
	return serr
}

// BeginEdit opens an edit session.
func (l *Layer[T]) BeginEdit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &domain.StoreError{Store: l.name, Op: "begin", Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		return &domain.StoreError{Store: l.name, Op: "begin", Err: domain.ErrAlreadyEditing}
	}
	l.pending = &session[T]{state: l.state.clone()}
	return nil
}

// CommitEdit applies the session. When a persister is installed it runs
// first; on failure the session stays open so the caller can roll back.
func (l *Layer[T]) CommitEdit(ctx context.Context) error {
	l.mu.RLock()
	pending := l.pending
	l.mu.RUnlock()
	if pending == nil {
		return &domain.StoreError{Store: l.name, Op: "commit", Err: domain.ErrNotEditing}
	}
	if l.persist != nil {
		if err := l.persist(ctx, l.name, pending.state.snapshot()); err != nil {
			return l.fail("commit", err)
		}
	}
	l.mu.Lock()
	l.state = pending.state
	l.pending = nil
	l.mu.Unlock()
	l.emit(domain.EventCommitted, nil)
	return nil
}

// RollbackEdit discards the session.
func (l *Layer[T]) RollbackEdit(context.Context) error {
	l.mu.Lock()
	if l.pending == nil {
		l.mu.Unlock()
		return &domain.StoreError{Store: l.name, Op: "rollback", Err: domain.ErrNotEditing}
	}
	l.pending = nil
	l.mu.Unlock()
	l.emit(domain.EventRolledBack, nil)
	return nil
}

// Editing reports whether a session is open.
func (l *Layer[T]) Editing() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pending != nil
}

// Modified reports whether the open session staged any change.
func (l *Layer[T]) Modified() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pending != nil && len(l.pending.changes) > 0
}

// Changes returns the staged changes of the open session.
func (l *Layer[T]) Changes() []Change {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.pending == nil {
		return nil
	}
	out := make([]Change, len(l.pending.changes))
	copy(out, l.pending.changes)
	return out
}

func (l *Layer[T]) view() layerState[T] {
	if l.pending != nil {
		return l.pending.state
	}
	return l.state
}

// Query returns matching rows ordered by FID. Pending edits are visible.
func (l *Layer[T]) Query(_ context.Context, filter domain.Filter[T]) ([]T, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := l.view()
	out := make([]T, 0, len(st.rows))
	for _, fid := range st.sortedKeys() {
		row := st.rows[fid]
		if domain.MatchAll(filter, row) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

// Get returns the row with the given FID.
func (l *Layer[T]) Get(_ context.Context, fid int64) (T, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	row, ok := l.view().rows[fid]
	if !ok {
		var zero T
		return zero, domain.NotFound(l.name, fid)
	}
	return row.Clone(), nil
}

// Add stores rec, assigning an FID when rec has none.
func (l *Layer[T]) Add(_ context.Context, rec T) (T, error) {
	var zero T
	l.mu.Lock()
	if l.pending == nil {
		l.mu.Unlock()
		return zero, &domain.StoreError{Store: l.name, Op: "add", Err: domain.ErrNotEditing}
	}
	st := &l.pending.state
	fid := rec.Key()
	if fid == 0 {
		fid = st.nextFID
	} else if _, exists := st.rows[fid]; exists {
		l.mu.Unlock()
		return zero, l.fail("add", errors.Errorf("fid %d already exists", fid))
	}
	if fid >= st.nextFID {
		st.nextFID = fid + 1
	}
	rec = rec.WithKey(fid)
	st.rows[fid] = rec.Clone()
	l.pending.changes = append(l.pending.changes, Change{Store: l.name, Action: domain.ActionCreate, After: rec})
	l.mu.Unlock()
	l.emit(domain.EventModified, nil)
	return rec.Clone(), nil
}

// Update replaces the row identified by rec's FID.
func (l *Layer[T]) Update(_ context.Context, rec T) error {
	l.mu.Lock()
	if l.pending == nil {
		l.mu.Unlock()
		return &domain.StoreError{Store: l.name, Op: "update", Err: domain.ErrNotEditing}
	}
	before, ok := l.pending.state.rows[rec.Key()]
	if !ok {
		l.mu.Unlock()
		return l.fail("update", domain.NotFound(l.name, rec.Key()))
	}
	l.pending.state.rows[rec.Key()] = rec.Clone()
	l.pending.changes = append(l.pending.changes, Change{Store: l.name, Action: domain.ActionUpdate, Before: before, After: rec})
	l.mu.Unlock()
	l.emit(domain.EventModified, nil)
	return nil
}

// Delete removes the row with the given FID.
func (l *Layer[T]) Delete(_ context.Context, fid int64) error {
	l.mu.Lock()
	if l.pending == nil {
		l.mu.Unlock()
		return &domain.StoreError{Store: l.name, Op: "delete", Err: domain.ErrNotEditing}
	}
	before, ok := l.pending.state.rows[fid]
	if !ok {
		l.mu.Unlock()
		return l.fail("delete", domain.NotFound(l.name, fid))
	}
	delete(l.pending.state.rows, fid)
	l.pending.changes = append(l.pending.changes, Change{Store: l.name, Action: domain.ActionDelete, Before: before})
	l.mu.Unlock()
	l.emit(domain.EventModified, nil)
	return nil
}
