package core

import (
	"context"
	"sort"

	"tomscore/pkg/domain"
)

// Ledger records which restrictions belong to which proposal and the action
// applied to each on acceptance.
type Ledger struct {
	store domain.Layer[domain.Membership]
}

// NewLedger wraps the membership store.
func NewLedger(store domain.Layer[domain.Membership]) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) find(ctx context.Context, rid string, layer domain.LayerID, proposal domain.ProposalID) ([]domain.Membership, error) {
	return l.store.Query(ctx, domain.Where[domain.Membership](
		domain.Eq("ProposalID", proposal),
		domain.Eq("RestrictionID", rid),
		domain.Eq("LayerID", layer),
	))
}

// Contains reports whether an Open record exists for the triple.
func (l *Ledger) Contains(ctx context.Context, rid string, layer domain.LayerID, proposal domain.ProposalID) (bool, error) {
	return l.Has(ctx, rid, layer, proposal, domain.ActionOpen)
}

// Has reports whether a record with action exists for the triple.
func (l *Ledger) Has(ctx context.Context, rid string, layer domain.LayerID, proposal domain.ProposalID, action domain.MembershipAction) (bool, error) {
	rows, err := l.find(ctx, rid, layer, proposal)
	if err != nil {
		return false, err
	}
	for _, m := range rows {
		if m.Action == action {
			return true, nil
		}
	}
	return false, nil
}

// Add records a membership. An identical record is rejected.
func (l *Ledger) Add(ctx context.Context, rid string, layer domain.LayerID, proposal domain.ProposalID, action domain.MembershipAction) (domain.Membership, error) {
	switch {
	case rid == "":
		return domain.Membership{}, &domain.ValidationError{Field: "restriction_id", Reason: "must not be empty"}
	case proposal == domain.NoProposal:
		return domain.Membership{}, domain.Invalid("proposal_id", domain.ErrReadOnly)
	case action != domain.ActionOpen && action != domain.ActionClose:
		return domain.Membership{}, &domain.ValidationError{Field: "action", Reason: "must be open or close"}
	}
	exists, err := l.Has(ctx, rid, layer, proposal, action)
	if err != nil {
		return domain.Membership{}, err
	}
	if exists {
		return domain.Membership{}, domain.Invalid("membership", domain.ErrDuplicateMembership)
	}
	return l.store.Add(ctx, domain.Membership{
		ProposalID:    proposal,
		RestrictionID: rid,
		LayerID:       layer,
		Action:        action,
	})
}

// Remove deletes the first record matching the triple, whatever its action.
func (l *Ledger) Remove(ctx context.Context, rid string, layer domain.LayerID, proposal domain.ProposalID) error {
	rows, err := l.find(ctx, rid, layer, proposal)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return domain.NotFound("membership", rid)
	}
	return l.store.Delete(ctx, rows[0].FID)
}

// RemoveAction deletes the record with action for the triple.
func (l *Ledger) RemoveAction(ctx context.Context, rid string, layer domain.LayerID, proposal domain.ProposalID, action domain.MembershipAction) error {
	rows, err := l.find(ctx, rid, layer, proposal)
	if err != nil {
		return err
	}
	for _, m := range rows {
		if m.Action == action {
			return l.store.Delete(ctx, m.FID)
		}
	}
	return domain.NotFound("membership", rid)
}

// ReferencingProposals returns the proposals other than except holding any
// record for rid in layer, in ascending order.
func (l *Ledger) ReferencingProposals(ctx context.Context, rid string, layer domain.LayerID, except domain.ProposalID) ([]domain.ProposalID, error) {
	rows, err := l.store.Query(ctx, domain.Where[domain.Membership](
		domain.Eq("RestrictionID", rid),
		domain.Eq("LayerID", layer),
		domain.Ne("ProposalID", except),
	))
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.ProposalID]struct{}, len(rows))
	var out []domain.ProposalID
	for _, m := range rows {
		if _, ok := seen[m.ProposalID]; ok {
			continue
		}
		seen[m.ProposalID] = struct{}{}
		out = append(out, m.ProposalID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// EntriesFor returns the records of proposal in FID order.
func (l *Ledger) EntriesFor(ctx context.Context, proposal domain.ProposalID) ([]domain.Membership, error) {
	return l.store.Query(ctx, domain.Where[domain.Membership](domain.Eq("ProposalID", proposal)))
}
