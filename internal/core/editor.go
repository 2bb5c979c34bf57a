package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"tomscore/pkg/domain"
)

// Editor stages restriction edits under a proposal. An edit to a
// restriction the proposal does not own yet clones it: the original is
// closed by the proposal and the clone, with a fresh RestrictionID, is opened
// by it.
type Editor struct {
	stores   *Stores
	ledger   *Ledger
	registry *Registry
	newID    func() string
}

// NewEditor wires an editor.
func NewEditor(stores *Stores, ledger *Ledger, registry *Registry) *Editor {
	return &Editor{stores: stores, ledger: ledger, registry: registry, newID: uuid.NewString}
}

func (e *Editor) check(ctx context.Context, pc ProposalContext) error {
	if pc.ReadOnly() {
		return domain.Invalid("proposal", domain.ErrReadOnly)
	}
	p, err := e.registry.Get(ctx, pc.ProposalID)
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		return domain.Invalid("status", domain.ErrTerminalStatus)
	}
	return nil
}

func findRestriction(ctx context.Context, info domain.RestrictionLayer, layer domain.Layer[domain.Restriction], rid string) (domain.Restriction, error) {
	rows, err := layer.Query(ctx, domain.Where[domain.Restriction](domain.Eq("RestrictionID", rid)))
	if err != nil {
		return domain.Restriction{}, err
	}
	if len(rows) == 0 {
		return domain.Restriction{}, domain.NotFound(info.Name, rid)
	}
	return rows[0], nil
}

// SaveRestriction stages r in layer under pc and returns the stored version.
//   - no RestrictionID: a new restriction opened by the proposal
//   - already opened by the proposal: updated in place
//   - otherwise: closed by the proposal and replaced by a clone
func (e *Editor) SaveRestriction(ctx context.Context, pc ProposalContext, layerID domain.LayerID, r domain.Restriction) (domain.Restriction, error) {
	if err := e.check(ctx, pc); err != nil {
		return domain.Restriction{}, err
	}
	info, layer, err := e.stores.Restriction(layerID)
	if err != nil {
		return domain.Restriction{}, err
	}

	if r.RestrictionID == "" {
		return e.open(ctx, pc, info, layer, r)
	}

	owned, err := e.ledger.Contains(ctx, r.RestrictionID, layerID, pc.ProposalID)
	if err != nil {
		return domain.Restriction{}, err
	}
	current, err := findRestriction(ctx, info, layer, r.RestrictionID)
	if err != nil {
		return domain.Restriction{}, err
	}
	if owned {
		r.FID = current.FID
		r.OpenDate, r.CloseDate = current.OpenDate, current.CloseDate
		if err := layer.Update(ctx, r); err != nil {
			return domain.Restriction{}, err
		}
		return r, nil
	}

	if current.CloseDate != nil {
		return domain.Restriction{}, &domain.ValidationError{Field: "restriction_id", Reason: "restriction is already closed"}
	}
	if _, err := e.ledger.Add(ctx, current.RestrictionID, layerID, pc.ProposalID, domain.ActionClose); err != nil {
		return domain.Restriction{}, err
	}
	return e.open(ctx, pc, info, layer, r)
}

func (e *Editor) open(ctx context.Context, pc ProposalContext, info domain.RestrictionLayer, layer domain.Layer[domain.Restriction], r domain.Restriction) (domain.Restriction, error) {
	r.FID = 0
	r.RestrictionID = e.newID()
	r.OpenDate, r.CloseDate = nil, nil
	added, err := layer.Add(ctx, r)
	if err != nil {
		return domain.Restriction{}, err
	}
	if _, err := e.ledger.Add(ctx, added.RestrictionID, info.ID, pc.ProposalID, domain.ActionOpen); err != nil {
		return domain.Restriction{}, err
	}
	return added, nil
}

// RetireRestriction stages the removal of rid by the proposal. A restriction
// the proposal itself opened is withdrawn instead.
func (e *Editor) RetireRestriction(ctx context.Context, pc ProposalContext, layerID domain.LayerID, rid string) error {
	if err := e.check(ctx, pc); err != nil {
		return err
	}
	info, layer, err := e.stores.Restriction(layerID)
	if err != nil {
		return err
	}
	owned, err := e.ledger.Contains(ctx, rid, layerID, pc.ProposalID)
	if err != nil {
		return err
	}
	if owned {
		return e.withdrawOpened(ctx, pc, info, layer, rid)
	}
	current, err := findRestriction(ctx, info, layer, rid)
	if err != nil {
		return err
	}
	if current.CloseDate != nil {
		return &domain.ValidationError{Field: "restriction_id", Reason: "restriction is already closed"}
	}
	_, err = e.ledger.Add(ctx, rid, layerID, pc.ProposalID, domain.ActionClose)
	return err
}

// WithdrawRestriction abandons the proposal's staged edit of rid: a
// restriction opened by the proposal is deleted with its record, otherwise
// the Close record is dropped.
func (e *Editor) WithdrawRestriction(ctx context.Context, pc ProposalContext, layerID domain.LayerID, rid string) error {
	if err := e.check(ctx, pc); err != nil {
		return err
	}
	info, layer, err := e.stores.Restriction(layerID)
	if err != nil {
		return err
	}
	owned, err := e.ledger.Contains(ctx, rid, layerID, pc.ProposalID)
	if err != nil {
		return err
	}
	if owned {
		return e.withdrawOpened(ctx, pc, info, layer, rid)
	}
	return e.ledger.RemoveAction(ctx, rid, layerID, pc.ProposalID, domain.ActionClose)
}

// withdrawOpened deletes a restriction the proposal opened. It refuses while
// another known proposal that is not rejected still records an action on it: the
// row is needed by that proposal's replay or history.
func (e *Editor) withdrawOpened(ctx context.Context, pc ProposalContext, info domain.RestrictionLayer, layer domain.Layer[domain.Restriction], rid string) error {
	others, err := e.ledger.ReferencingProposals(ctx, rid, info.ID, pc.ProposalID)
	if err != nil {
		return err
	}
	for _, id := range others {
		p, err := e.registry.Get(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			continue
		case err != nil:
			return err
		case p.Status == domain.StatusRejected:
			continue
		}
		return &domain.ValidationError{
			Field:  "restriction_id",
			Reason: fmt.Sprintf("%s: proposal %d", domain.ErrRestrictionInUse, id),
			Err:    domain.ErrRestrictionInUse,
		}
	}
	current, err := findRestriction(ctx, info, layer, rid)
	if err != nil {
		return err
	}
	if err := layer.Delete(ctx, current.FID); err != nil {
		return err
	}
	return e.ledger.RemoveAction(ctx, rid, info.ID, pc.ProposalID, domain.ActionOpen)
}

// RestrictionsInForce returns the restrictions of layer in force on day.
func (e *Editor) RestrictionsInForce(ctx context.Context, layerID domain.LayerID, day time.Time) ([]domain.Restriction, error) {
	_, layer, err := e.stores.Restriction(layerID)
	if err != nil {
		return nil, err
	}
	return layer.Query(ctx, domain.FilterFunc[domain.Restriction](func(r domain.Restriction) bool {
		return r.InForceAt(day)
	}))
}
