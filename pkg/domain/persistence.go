package domain

import "context"

// Entity is a stored record with a storage row identity. WithKey returns a
// copy carrying the assigned FID; Clone returns a copy safe to mutate.
type Entity[T any] interface {
	Record
	Key() int64
	WithKey(fid int64) T
	Clone() T
}

// StoreEventKind classifies notifications emitted by an EditableStore.
type StoreEventKind int

// Store event kinds.
const (
	EventModified StoreEventKind = iota + 1
	EventError
	EventCommitted
	EventRolledBack
)

func (k StoreEventKind) String() string {
	switch k {
	case EventModified:
		return "modified"
	case EventError:
		return "error"
	case EventCommitted:
		return "committed"
	case EventRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// StoreEvent is delivered to observers of an EditableStore.
type StoreEvent struct {
	Store string
	Kind  StoreEventKind
	Err   error
}

// Observer receives store events synchronously.
type Observer func(StoreEvent)

// EditableStore is the edit-session half of the feature store contract.
// Writes are only accepted between BeginEdit and CommitEdit/RollbackEdit.
type EditableStore interface {
	Name() string
	BeginEdit(ctx context.Context) error
	CommitEdit(ctx context.Context) error
	RollbackEdit(ctx context.Context) error
	Editing() bool
	Modified() bool
	Changes() []Change
	Subscribe(obs Observer) (cancel func())
}

// Layer is a named collection of typed records. Reads observe pending edits
// while a session is open.
type Layer[T Entity[T]] interface {
	EditableStore
	Query(ctx context.Context, filter Filter[T]) ([]T, error)
	Get(ctx context.Context, fid int64) (T, error)
	Add(ctx context.Context, rec T) (T, error)
	Update(ctx context.Context, rec T) error
	Delete(ctx context.Context, fid int64) error
}

// Entity implementations.

func (p Proposal) Key() int64 { return p.FID }

func (p Proposal) WithKey(fid int64) Proposal {
	p.FID = fid
	return p
}

func (p Proposal) Clone() Proposal {
	p.OpenDate = cloneDate(p.OpenDate)
	return p
}

func (r Restriction) Key() int64 { return r.FID }

func (r Restriction) WithKey(fid int64) Restriction {
	r.FID = fid
	return r
}

func (m Membership) Key() int64 { return m.FID }

func (m Membership) WithKey(fid int64) Membership {
	m.FID = fid
	return m
}

func (m Membership) Clone() Membership { return m }

func (t Tile) Key() int64 { return t.FID }

func (t Tile) WithKey(fid int64) Tile {
	t.FID = fid
	return t
}

func (t Tile) Clone() Tile {
	t.LastRevisionDate = cloneDate(t.LastRevisionDate)
	return t
}

func (t TileRevision) Key() int64 { return t.FID }

func (t TileRevision) WithKey(fid int64) TileRevision {
	t.FID = fid
	return t
}

func (t TileRevision) Clone() TileRevision { return t }
