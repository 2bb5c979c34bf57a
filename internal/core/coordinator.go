package core

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"tomscore/internal/logging"
	"tomscore/pkg/domain"
)

// TxState is the coordinator's position in the grouped edit life cycle.
type TxState int

// Coordinator states.
const (
	StateIdle TxState = iota
	StateGroupPrepared
	StateEditing
	StateCommitting
	StateRollingBack
)

func (s TxState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGroupPrepared:
		return "group_prepared"
	case StateEditing:
		return "editing"
	case StateCommitting:
		return "committing"
	case StateRollingBack:
		return "rolling_back"
	default:
		return "unknown"
	}
}

// PreCommitHook inspects the staged changes before any store commits. A
// returned error aborts the transaction.
type PreCommitHook func(ctx context.Context, changes []domain.Change) error

// StoreFailure is a per-store commit failure.
type StoreFailure struct {
	Store string
	Err   error
}

// CommitResult reports how each bound store fared.
type CommitResult struct {
	Committed []string
	Failed    []StoreFailure
	Changes   []domain.Change
}

// OK reports whether every store committed.
func (r CommitResult) OK() bool { return len(r.Failed) == 0 }

// Coordinator groups a fixed set of stores into one edit session.
//
// Commit is not atomic across stores: each store commits on its own and a
// failure after earlier stores committed is reported, not undone.
type Coordinator struct {
	mu      sync.Mutex
	group   func() []domain.EditableStore
	stores  []domain.EditableStore
	state   TxState
	bound   bool
	cancels []func()
	hooks   []PreCommitHook
	publish func(Event)
	metrics MetricsRecorder
	logger  logrus.FieldLogger

	// flagMu guards the fields written by store observers.
	flagMu  sync.Mutex
	editing bool
	flagged map[string]error
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithPreCommitHook appends a hook evaluated by Commit.
func WithPreCommitHook(h PreCommitHook) CoordinatorOption {
	return func(c *Coordinator) { c.hooks = append(c.hooks, h) }
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l logrus.FieldLogger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEventBus publishes transaction events on bus.
func WithEventBus(bus *EventBus) CoordinatorOption {
	return func(c *Coordinator) {
		if bus != nil {
			c.publish = bus.Publish
		}
	}
}

// WithEventSink hands transaction events to fn instead of a bus.
func WithEventSink(fn func(Event)) CoordinatorOption {
	return func(c *Coordinator) { c.publish = fn }
}

// WithCoordinatorMetrics reports per-store commit failures when m
// implements CommitFailureRecorder.
func WithCoordinatorMetrics(m MetricsRecorder) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator builds a coordinator over the store group returned by group.
func NewCoordinator(group func() []domain.EditableStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		group:   group,
		flagged: make(map[string]error),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() TxState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stores returns the bound stores, nil before Prepare.
func (c *Coordinator) Stores() []domain.EditableStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.EditableStore(nil), c.stores...)
}

// Prepare binds the store group and subscribes to store events. Calling it
// again is a no-op.
func (c *Coordinator) Prepare() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepareLocked()
}

func (c *Coordinator) prepareLocked() {
	if c.bound {
		if c.state == StateIdle {
			c.state = StateGroupPrepared
		}
		return
	}
	c.stores = c.group()
	for _, st := range c.stores {
		c.cancels = append(c.cancels, st.Subscribe(c.observe))
	}
	c.bound = true
	c.state = StateGroupPrepared
}

// observe records store errors raised while a session is editing. Store
// events are delivered synchronously from inside coordinator-driven calls,
// so it must not take c.mu.
func (c *Coordinator) observe(ev domain.StoreEvent) {
	if ev.Kind != domain.EventError {
		return
	}
	c.logger.WithFields(logrus.Fields{"store": ev.Store}).WithError(ev.Err).Warn("store reported an error")
	c.flagMu.Lock()
	defer c.flagMu.Unlock()
	if c.editing {
		if _, seen := c.flagged[ev.Store]; !seen {
			c.flagged[ev.Store] = ev.Err
		}
	}
}

// Begin opens an edit session on every bound store. When one store cannot
// begin, the sessions already opened are rolled back and the coordinator
// returns to Idle.
func (c *Coordinator) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateEditing, StateCommitting, StateRollingBack:
		return domain.ErrTransactionActive
	}
	c.prepareLocked()
	c.clearFlags()

	begun := make([]domain.EditableStore, 0, len(c.stores))
	for _, st := range c.stores {
		if err := st.BeginEdit(ctx); err != nil {
			for _, b := range begun {
				_ = b.RollbackEdit(ctx)
			}
			c.state = StateIdle
			return asStoreError(st.Name(), "begin", err)
		}
		begun = append(begun, st)
	}
	c.setEditing(true)
	c.state = StateEditing
	return nil
}

// Changes returns the changes staged across the group, in store order.
func (c *Coordinator) Changes() []domain.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Change
	for _, st := range c.stores {
		out = append(out, st.Changes()...)
	}
	return out
}

// Commit commits every bound store. It rolls back instead when primary has
// no staged change, when any store flagged an error during the session, or
// when a pre-commit hook fails. Stores whose own commit fails are rolled back
// individually; the others stay committed. The coordinator ends Idle.
func (c *Coordinator) Commit(ctx context.Context, primary domain.EditableStore) (CommitResult, error) {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return CommitResult{}, domain.ErrNotEditing
	}
	var changes []domain.Change
	for _, st := range c.stores {
		changes = append(changes, st.Changes()...)
	}
	res := CommitResult{Changes: changes}

	if err := c.firstFlag(); err != nil {
		c.mu.Unlock()
		return res, c.abort(ctx, err)
	}
	if primary == nil || !primary.Modified() {
		name := "<nil>"
		if primary != nil {
			name = primary.Name()
		}
		c.mu.Unlock()
		return res, c.abort(ctx, &domain.StoreError{Store: name, Op: "commit", Err: domain.ErrNotModified})
	}
	for _, hook := range c.hooks {
		if err := hook(ctx, changes); err != nil {
			c.mu.Unlock()
			return res, c.abort(ctx, err)
		}
	}

	c.state = StateCommitting
	c.setEditing(false)
	for _, st := range c.stores {
		if !st.Editing() {
			continue
		}
		if err := st.CommitEdit(ctx); err != nil {
			res.Failed = append(res.Failed, StoreFailure{Store: st.Name(), Err: err})
			if st.Editing() {
				_ = st.RollbackEdit(ctx)
			}
			if fr, ok := c.metrics.(CommitFailureRecorder); ok {
				fr.CommitFailed(st.Name())
			}
			c.logger.WithFields(logrus.Fields{"store": st.Name(), "op": "commit"}).WithError(err).Error("store commit failed")
			continue
		}
		res.Committed = append(res.Committed, st.Name())
	}
	c.clearFlags()
	c.state = StateIdle
	c.mu.Unlock()

	if !res.OK() {
		first := res.Failed[0]
		return res, errors.Wrapf(asStoreError(first.Store, "commit", first.Err), "commit failed on %d of %d stores", len(res.Failed), len(res.Failed)+len(res.Committed))
	}
	c.emit(Event{Kind: EventTransactionCompleted, Result: &res})
	return res, nil
}

func (c *Coordinator) abort(ctx context.Context, cause error) error {
	if err := c.Rollback(ctx); err != nil {
		c.logger.WithError(err).Warn("rollback after aborted commit failed")
	}
	return cause
}

// Rollback reverts every editing store, clears error flags and returns to
// Idle. It is safe to call from any state.
func (c *Coordinator) Rollback(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateRollingBack
	c.setEditing(false)
	var firstErr error
	for _, st := range c.stores {
		if !st.Editing() {
			continue
		}
		if err := st.RollbackEdit(ctx); err != nil && firstErr == nil {
			firstErr = asStoreError(st.Name(), "rollback", err)
		}
	}
	c.clearFlags()
	c.state = StateIdle
	c.mu.Unlock()
	c.emit(Event{Kind: EventTransactionRolledBack})
	return firstErr
}

// Close unsubscribes from the bound stores.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	c.stores = nil
	c.bound = false
	c.state = StateIdle
}

func (c *Coordinator) emit(ev Event) {
	if c.publish != nil {
		c.publish(ev)
	}
}

func (c *Coordinator) firstFlag() error {
	c.flagMu.Lock()
	defer c.flagMu.Unlock()
	for _, st := range c.stores {
		if err, ok := c.flagged[st.Name()]; ok {
			return asStoreError(st.Name(), "edit", err)
		}
	}
	return nil
}

func (c *Coordinator) clearFlags() {
	c.flagMu.Lock()
	defer c.flagMu.Unlock()
	c.flagged = make(map[string]error)
}

func (c *Coordinator) setEditing(v bool) {
	c.flagMu.Lock()
	defer c.flagMu.Unlock()
	c.editing = v
}

func asStoreError(store, op string, err error) error {
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StoreError{Store: store, Op: op, Err: err}
}
