package core

import (
	"context"
	"strings"
	"time"

	"tomscore/pkg/domain"
)

// StatusChange requests a proposal status transition.
type StatusChange struct {
	ID       domain.ProposalID
	Status   domain.ProposalStatus
	OpenDate *time.Time
	// Confirmed must be set to accept or reject; the original workflow asks
	// the user before applying either.
	Confirmed bool
}

// ProposalUpdate edits the mutable fields of a proposal in preparation. Nil
// fields are left unchanged.
type ProposalUpdate struct {
	ID       domain.ProposalID
	Title    *string
	Notes    *string
	OpenDate *time.Time
}

// Registry owns the proposal life cycle. Writes require an open edit
// session on the proposals store.
type Registry struct {
	stores   *Stores
	protocol *Protocol
	now      func() time.Time
}

// NewRegistry constructs a registry that runs protocol on accept/reject.
func NewRegistry(stores *Stores, protocol *Protocol, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{stores: stores, protocol: protocol, now: now}
}

// Create allocates a proposal in preparation with the next free ID.
func (r *Registry) Create(ctx context.Context, title, notes string, openDate *time.Time) (domain.Proposal, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Proposal{}, &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	all, err := r.stores.Proposals.Query(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	var maxID domain.ProposalID
	for _, p := range all {
		if p.ID > maxID {
			maxID = p.ID
		}
	}
	p := domain.Proposal{
		ID:        maxID + 1,
		Title:     title,
		Status:    domain.StatusInPreparation,
		Notes:     notes,
		CreatedAt: r.now().UTC(),
	}
	if openDate != nil {
		p.OpenDate = domain.DayPtr(*openDate)
	}
	return r.stores.Proposals.Add(ctx, p)
}

// Get returns the proposal with id.
func (r *Registry) Get(ctx context.Context, id domain.ProposalID) (domain.Proposal, error) {
	rows, err := r.stores.Proposals.Query(ctx, domain.Where[domain.Proposal](domain.Eq("ProposalID", id)))
	if err != nil {
		return domain.Proposal{}, err
	}
	if len(rows) == 0 {
		return domain.Proposal{}, domain.NotFound("proposal", id)
	}
	return rows[0], nil
}

// List returns every proposal ordered by ID.
func (r *Registry) List(ctx context.Context) ([]domain.Proposal, error) {
	rows, err := r.stores.Proposals.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	sortProposals(rows)
	return rows, nil
}

// Update edits a proposal still in preparation.
func (r *Registry) Update(ctx context.Context, upd ProposalUpdate) (domain.Proposal, error) {
	p, err := r.Get(ctx, upd.ID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if p.Status.Terminal() {
		return domain.Proposal{}, domain.Invalid("status", domain.ErrTerminalStatus)
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return domain.Proposal{}, &domain.ValidationError{Field: "title", Reason: "must not be empty"}
		}
		p.Title = title
	}
	if upd.Notes != nil {
		p.Notes = *upd.Notes
	}
	if upd.OpenDate != nil {
		p.OpenDate = domain.DayPtr(*upd.OpenDate)
	}
	if err := r.stores.Proposals.Update(ctx, p); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// SetStatus applies a status transition. Accepting replays the ledger with
// the open date; rejecting replays it with null dates. Accepted and
// Rejected are terminal.
func (r *Registry) SetStatus(ctx context.Context, req StatusChange) (domain.Proposal, error) {
	p, err := r.Get(ctx, req.ID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if p.Status.Terminal() {
		return domain.Proposal{}, domain.Invalid("status", domain.ErrTerminalStatus)
	}
	switch req.Status {
	case domain.StatusInPreparation:
		if req.OpenDate == nil {
			return p, nil
		}
		return r.Update(ctx, ProposalUpdate{ID: p.ID, OpenDate: req.OpenDate})
	case domain.StatusAccepted:
		if !req.Confirmed {
			return domain.Proposal{}, domain.Invalid("status", domain.ErrNotConfirmed)
		}
		if req.OpenDate != nil {
			p.OpenDate = domain.DayPtr(*req.OpenDate)
		}
		if p.OpenDate == nil {
			return domain.Proposal{}, &domain.ValidationError{Field: "open_date", Reason: "required to accept a proposal"}
		}
		p.Status = domain.StatusAccepted
		if err := r.stores.Proposals.Update(ctx, p); err != nil {
			return domain.Proposal{}, err
		}
		if _, err := r.protocol.Accept(ctx, p); err != nil {
			return domain.Proposal{}, err
		}
		return p, nil
	case domain.StatusRejected:
		if !req.Confirmed {
			return domain.Proposal{}, domain.Invalid("status", domain.ErrNotConfirmed)
		}
		p.Status = domain.StatusRejected
		if err := r.stores.Proposals.Update(ctx, p); err != nil {
			return domain.Proposal{}, err
		}
		if err := r.protocol.Reject(ctx, p.ID); err != nil {
			return domain.Proposal{}, err
		}
		return p, nil
	default:
		return domain.Proposal{}, &domain.ValidationError{Field: "status", Reason: "unknown status " + req.Status.String()}
	}
}
