package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tomscore/internal/blob"
	"tomscore/internal/logging"
	"tomscore/internal/query"
	"tomscore/pkg/domain"
)

// Service runs every mutating operation as one grouped transaction:
// Begin, the operation, then Commit with the operation's primary store.
// Operations are serialised; the core assumes a single writer.
type Service struct {
	mu       sync.Mutex
	stores   *Stores
	coord    *Coordinator
	registry *Registry
	ledger   *Ledger
	tiles    *TileTracker
	editor   *Editor
	protocol *Protocol
	bus      *EventBus
	archive  *Archive
	engine   *domain.RulesEngine
	metrics  MetricsRecorder
	logger   logrus.FieldLogger
	now      func() time.Time

	// eventsMu guards coordinator events held back while mu is taken.
	eventsMu sync.Mutex
	holding  bool
	held     []Event
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithArchive writes an acceptance document to store for every accepted
// proposal.
func WithArchive(store blob.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.archive = NewArchive(store, nil)
		}
	}
}

// WithRulesEngine replaces the built-in rules. A nil engine disables rules.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(s *Service) { s.engine = engine }
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewService assembles the core over stores.
func NewService(stores *Stores, opts ...Option) *Service {
	s := &Service{
		stores:  stores,
		engine:  DefaultRulesEngine(),
		metrics: noopMetrics{},
		logger:  logging.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.archive != nil {
		s.archive.now = s.now
	}
	s.bus = NewEventBus(s.logger)
	s.ledger = NewLedger(stores.Memberships)
	s.tiles = NewTileTracker(stores)
	s.protocol = NewProtocol(stores, s.ledger, s.tiles, s.logger)
	s.registry = NewRegistry(stores, s.protocol, s.now)
	s.editor = NewEditor(stores, s.ledger, s.registry)

	coordOpts := []CoordinatorOption{
		WithCoordinatorLogger(s.logger),
		WithEventSink(s.coordinatorEvent),
		WithCoordinatorMetrics(s.metrics),
	}
	if s.engine != nil {
		coordOpts = append(coordOpts, WithPreCommitHook(rulesHook(s.engine, storeView{stores: stores}, s.reportViolations)))
	}
	s.coord = NewCoordinator(stores.Group, coordOpts...)
	s.coord.Prepare()
	return s
}

func (s *Service) reportViolations(res domain.Result) {
	for _, v := range res.Violations {
		s.logger.WithFields(logrus.Fields{
			"rule":     v.Rule,
			"severity": string(v.Severity),
			"store":    v.Store,
			"entity":   v.EntityID,
		}).Warn(v.Message)
	}
}

// Stores returns the store set.
func (s *Service) Stores() *Stores { return s.stores }

// Coordinator returns the transaction coordinator.
func (s *Service) Coordinator() *Coordinator { return s.coord }

// Events returns the event bus.
func (s *Service) Events() *EventBus { return s.bus }

// Ledger returns the membership ledger.
func (s *Service) Ledger() *Ledger { return s.ledger }

// Archive returns the acceptance archive, nil when disabled.
func (s *Service) Archive() *Archive { return s.archive }

// Close releases coordinator subscriptions.
func (s *Service) Close() { s.coord.Close() }

// run executes fn as one transaction. Events raised by the coordinator are
// published once the service lock is released, so handlers may call back
// into the Service.
func (s *Service) run(ctx context.Context, op string, primary func() domain.EditableStore, fn func(ctx context.Context) error) (CommitResult, error) {
	res, events, err := s.runLocked(ctx, op, primary, fn)
	for _, ev := range events {
		s.bus.Publish(ev)
	}
	return res, err
}

func (s *Service) runLocked(ctx context.Context, op string, primary func() domain.EditableStore, fn func(ctx context.Context) error) (res CommitResult, events []Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdEvents()
	defer func() { events = s.releaseEvents() }()

	start := s.now()
	log := s.logger.WithField("op", op)

	res, err = s.transact(ctx, primary, fn)
	s.metrics.Observe(ctx, op, err == nil, s.now().Sub(start))
	if err != nil {
		entry := log.WithError(err)
		if name, ok := domain.StoreName(err); ok {
			entry = entry.WithField("store", name)
		}
		entry.Warn("operation failed")
		return res, nil, err
	}
	log.WithField("stores", len(res.Committed)).Debug("operation committed")
	return res, nil, nil
}

func (s *Service) holdEvents() {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.holding = true
}

func (s *Service) releaseEvents() []Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	out := s.held
	s.holding, s.held = false, nil
	return out
}

// coordinatorEvent publishes ev, or holds it while an operation runs.
func (s *Service) coordinatorEvent(ev Event) {
	s.eventsMu.Lock()
	if s.holding {
		s.held = append(s.held, ev)
		s.eventsMu.Unlock()
		return
	}
	s.eventsMu.Unlock()
	s.bus.Publish(ev)
}

func (s *Service) transact(ctx context.Context, primary func() domain.EditableStore, fn func(ctx context.Context) error) (CommitResult, error) {
	if err := s.coord.Begin(ctx); err != nil {
		return CommitResult{}, err
	}
	if err := fn(ctx); err != nil {
		if rbErr := s.coord.Rollback(ctx); rbErr != nil {
			s.logger.WithError(rbErr).Warn("rollback failed")
		}
		return CommitResult{}, err
	}
	return s.coord.Commit(ctx, primary())
}

func (s *Service) proposalsStore() domain.EditableStore { return s.stores.Proposals }
func (s *Service) membershipsStore() domain.EditableStore { return s.stores.Memberships }
func (s *Service) tilesStore() domain.EditableStore { return s.stores.Tiles }

// CreateProposal opens a new proposal in preparation.
func (s *Service) CreateProposal(ctx context.Context, title, notes string, openDate *time.Time) (domain.Proposal, error) {
	var created domain.Proposal
	_, err := s.run(ctx, "create_proposal", s.proposalsStore, func(ctx context.Context) error {
		var err error
		created, err = s.registry.Create(ctx, title, notes, openDate)
		return err
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	s.bus.Publish(Event{Kind: EventProposalCreated, ProposalID: created.ID})
	return created, nil
}

// UpdateProposal edits a proposal still in preparation.
func (s *Service) UpdateProposal(ctx context.Context, upd ProposalUpdate) (domain.Proposal, error) {
	var updated domain.Proposal
	_, err := s.run(ctx, "update_proposal", s.proposalsStore, func(ctx context.Context) error {
		var err error
		updated, err = s.registry.Update(ctx, upd)
		return err
	})
	return updated, err
}

// AcceptProposal accepts id, stamping its restrictions with openDate (or
// the proposal's own open date when nil). When an archive is configured the
// acceptance document is written after the commit; archive failures are
// logged only.
func (s *Service) AcceptProposal(ctx context.Context, id domain.ProposalID, openDate *time.Time, confirmed bool) (domain.Proposal, error) {
	var accepted domain.Proposal
	_, err := s.run(ctx, "accept_proposal", s.proposalsStore, func(ctx context.Context) error {
		var err error
		accepted, err = s.registry.SetStatus(ctx, StatusChange{
			ID:        id,
			Status:    domain.StatusAccepted,
			OpenDate:  openDate,
			Confirmed: confirmed,
		})
		return err
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	s.writeArchive(ctx, accepted)
	s.bus.Publish(Event{Kind: EventProposalAccepted, ProposalID: accepted.ID})
	return accepted, nil
}

func (s *Service) writeArchive(ctx context.Context, p domain.Proposal) {
	if s.archive == nil {
		return
	}
	log := s.logger.WithField("proposal_id", int64(p.ID))
	acc, err := s.acceptanceOf(ctx, p)
	if err == nil {
		var info blob.Info
		info, err = s.archive.Write(ctx, acc)
		if err == nil {
			log.WithField("key", info.Key).Info("acceptance archived")
			return
		}
	}
	log.WithError(err).Error("acceptance archive failed")
}

// acceptanceOf rebuilds the acceptance summary from committed state.
func (s *Service) acceptanceOf(ctx context.Context, p domain.Proposal) (Acceptance, error) {
	acc := Acceptance{Proposal: p, Restrictions: make(map[domain.LayerID][]domain.Restriction)}
	entries, err := s.ledger.EntriesFor(ctx, p.ID)
	if err != nil {
		return acc, err
	}
	acc.Memberships = entries
	for _, m := range entries {
		info, layer, err := s.stores.Restriction(m.LayerID)
		if err != nil {
			return acc, err
		}
		r, err := findRestriction(ctx, info, layer, m.RestrictionID)
		if err != nil {
			return acc, err
		}
		acc.Restrictions[m.LayerID] = append(acc.Restrictions[m.LayerID], r)
	}
	hist, err := s.stores.TileHistory.Query(ctx, domain.Where[domain.TileRevision](domain.Eq("ProposalID", p.ID)))
	if err != nil {
		return acc, err
	}
	for _, h := range hist {
		tile, err := s.tiles.Tile(ctx, h.TileNr)
		if err != nil {
			return acc, err
		}
		acc.Tiles = append(acc.Tiles, tile)
	}
	return acc, nil
}

// RejectProposal rejects id and clears any dates staged by its records.
func (s *Service) RejectProposal(ctx context.Context, id domain.ProposalID, confirmed bool) (domain.Proposal, error) {
	var rejected domain.Proposal
	_, err := s.run(ctx, "reject_proposal", s.proposalsStore, func(ctx context.Context) error {
		var err error
		rejected, err = s.registry.SetStatus(ctx, StatusChange{ID: id, Status: domain.StatusRejected, Confirmed: confirmed})
		return err
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	s.bus.Publish(Event{Kind: EventProposalRejected, ProposalID: rejected.ID})
	return rejected, nil
}

// SaveRestriction stages a restriction edit under pc.
func (s *Service) SaveRestriction(ctx context.Context, pc ProposalContext, layerID domain.LayerID, r domain.Restriction) (domain.Restriction, error) {
	if pc.ReadOnly() {
		return domain.Restriction{}, domain.Invalid("proposal", domain.ErrReadOnly)
	}
	_, layer, err := s.stores.Restriction(layerID)
	if err != nil {
		return domain.Restriction{}, err
	}
	var saved domain.Restriction
	_, err = s.run(ctx, "save_restriction", func() domain.EditableStore { return layer }, func(ctx context.Context) error {
		var err error
		saved, err = s.editor.SaveRestriction(ctx, pc, layerID, r)
		return err
	})
	return saved, err
}

// RetireRestriction stages the closure of rid under pc.
func (s *Service) RetireRestriction(ctx context.Context, pc ProposalContext, layerID domain.LayerID, rid string) error {
	_, err := s.run(ctx, "retire_restriction", s.membershipsStore, func(ctx context.Context) error {
		return s.editor.RetireRestriction(ctx, pc, layerID, rid)
	})
	return err
}

// WithdrawRestriction abandons the staged edit of rid under pc.
func (s *Service) WithdrawRestriction(ctx context.Context, pc ProposalContext, layerID domain.LayerID, rid string) error {
	_, err := s.run(ctx, "withdraw_restriction", s.membershipsStore, func(ctx context.Context) error {
		return s.editor.WithdrawRestriction(ctx, pc, layerID, rid)
	})
	return err
}

// AddTile registers a map grid tile.
func (s *Service) AddTile(ctx context.Context, tile domain.Tile) (domain.Tile, error) {
	var added domain.Tile
	_, err := s.run(ctx, "add_tile", s.tilesStore, func(ctx context.Context) error {
		var err error
		added, err = s.tiles.AddTile(ctx, tile)
		return err
	})
	return added, err
}

// TileRevisionAt returns the revision of tile nr in force on day.
func (s *Service) TileRevisionAt(ctx context.Context, nr int64, day time.Time) (int, *time.Time, error) {
	return s.tiles.RevisionAtDate(ctx, nr, day)
}

// TileHistory returns the revisions of tile nr, newest first.
func (s *Service) TileHistory(ctx context.Context, nr int64) ([]domain.TileRevision, error) {
	return s.tiles.History(ctx, nr)
}

// Tiles returns every registered tile.
func (s *Service) Tiles(ctx context.Context) ([]domain.Tile, error) {
	return s.stores.Tiles.Query(ctx, nil)
}

// Proposals lists proposals ordered by ID.
func (s *Service) Proposals(ctx context.Context) ([]domain.Proposal, error) {
	return s.registry.List(ctx)
}

// Proposal returns proposal id.
func (s *Service) Proposal(ctx context.Context, id domain.ProposalID) (domain.Proposal, error) {
	return s.registry.Get(ctx, id)
}

// Context resolves the editing context of proposal id. The zero id yields
// the read-only context.
func (s *Service) Context(ctx context.Context, id domain.ProposalID) (ProposalContext, error) {
	if id == domain.NoProposal {
		return ProposalContext{}, nil
	}
	p, err := s.registry.Get(ctx, id)
	if err != nil {
		return ProposalContext{}, err
	}
	return ForProposal(p), nil
}

// ProposalEntries returns the ledger records of proposal id.
func (s *Service) ProposalEntries(ctx context.Context, id domain.ProposalID) ([]domain.Membership, error) {
	return s.ledger.EntriesFor(ctx, id)
}

// RestrictionsInForce returns the restrictions of a layer in force on day.
func (s *Service) RestrictionsInForce(ctx context.Context, layerID domain.LayerID, day time.Time) ([]domain.Restriction, error) {
	return s.editor.RestrictionsInForce(ctx, layerID, day)
}

// Restrictions returns the restrictions of a layer matching a filter
// expression over their attributes. An empty expression matches all.
func (s *Service) Restrictions(ctx context.Context, layerID domain.LayerID, expr string) ([]domain.Restriction, error) {
	_, layer, err := s.stores.Restriction(layerID)
	if err != nil {
		return nil, err
	}
	if expr == "" {
		return layer.Query(ctx, nil)
	}
	filter, err := query.Compile[domain.Restriction](expr)
	if err != nil {
		return nil, err
	}
	rows, err := layer.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := filter.Err(); err != nil {
		s.logger.WithError(err).WithField("expr", expr).Debug("filter evaluation skipped rows")
	}
	return rows, nil
}

// RestrictionLayers returns the layer registry.
func (s *Service) RestrictionLayers() []domain.RestrictionLayer {
	return s.stores.RestrictionLayers()
}
