package core

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"tomscore/internal/logging"
	"tomscore/pkg/domain"
)

// Acceptance summarises an accepted proposal.
type Acceptance struct {
	Proposal     domain.Proposal
	Memberships  []domain.Membership
	Restrictions map[domain.LayerID][]domain.Restriction
	Tiles        []domain.Tile
}

// Protocol replays ledger records onto the restriction layers when a
// proposal is accepted or rejected.
//
// A failed replay stops at the first error; stamps already applied in that
// pass stay in the open edit sessions and are only discarded if the caller
// rolls the transaction back.
type Protocol struct {
	stores *Stores
	ledger *Ledger
	tiles  *TileTracker
	logger logrus.FieldLogger
}

// NewProtocol wires the protocol. tiles may be nil to skip tile revisions.
func NewProtocol(stores *Stores, ledger *Ledger, tiles *TileTracker, logger logrus.FieldLogger) *Protocol {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Protocol{stores: stores, ledger: ledger, tiles: tiles, logger: logger}
}

// Accept stamps every Open record's restriction with OpenDate and every
// Close record's restriction with CloseDate, then bumps the revision of each
// tile touched by those restrictions.
func (p *Protocol) Accept(ctx context.Context, proposal domain.Proposal) (Acceptance, error) {
	if proposal.OpenDate == nil {
		return Acceptance{}, &domain.ValidationError{Field: "open_date", Reason: "required to accept a proposal"}
	}
	day := domain.Day(*proposal.OpenDate)
	out := Acceptance{Proposal: proposal, Restrictions: make(map[domain.LayerID][]domain.Restriction)}
	entries, err := p.ledger.EntriesFor(ctx, proposal.ID)
	if err != nil {
		return out, err
	}
	out.Memberships = entries

	var geoms []orb.Geometry
	for _, m := range entries {
		r, err := p.stamp(ctx, m, &day, "accept")
		if err != nil {
			return out, err
		}
		out.Restrictions[m.LayerID] = append(out.Restrictions[m.LayerID], r)
		if g := r.Geom(); g != nil {
			geoms = append(geoms, g)
		}
	}

	if p.tiles != nil {
		touched, err := p.tiles.TilesTouching(ctx, geoms)
		if err != nil {
			return out, err
		}
		for _, tile := range touched {
			updated, err := p.tiles.UpdateRevisionNr(ctx, tile.TileNr, proposal)
			if err != nil {
				return out, err
			}
			out.Tiles = append(out.Tiles, updated)
		}
	}
	p.logger.WithFields(logrus.Fields{
		"proposal_id": int64(proposal.ID),
		"memberships": len(entries),
		"tiles":       len(out.Tiles),
		"open_date":   day.Format(time.DateOnly),
		"op":          "accept",
	}).Info("proposal accepted")
	return out, nil
}

// Reject replays the ledger with null dates. Ledger records are kept.
func (p *Protocol) Reject(ctx context.Context, id domain.ProposalID) error {
	entries, err := p.ledger.EntriesFor(ctx, id)
	if err != nil {
		return err
	}
	for _, m := range entries {
		if _, err := p.stamp(ctx, m, nil, "reject"); err != nil {
			return err
		}
	}
	p.logger.WithFields(logrus.Fields{
		"proposal_id": int64(id),
		"memberships": len(entries),
		"op":          "reject",
	}).Info("proposal rejected")
	return nil
}

func (p *Protocol) stamp(ctx context.Context, m domain.Membership, day *time.Time, op string) (domain.Restriction, error) {
	info, layer, err := p.stores.Restriction(m.LayerID)
	if err != nil {
		// The record itself is bad, so the ledger store is named.
		return domain.Restriction{}, &domain.StoreError{Store: StoreMemberships, Op: op, Err: err}
	}
	rows, err := layer.Query(ctx, domain.Where[domain.Restriction](domain.Eq("RestrictionID", m.RestrictionID)))
	if err != nil {
		return domain.Restriction{}, &domain.StoreError{Store: info.Name, Op: op, Err: err}
	}
	if len(rows) == 0 {
		return domain.Restriction{}, &domain.StoreError{Store: info.Name, Op: op, Err: domain.NotFound("restriction", m.RestrictionID)}
	}
	r := rows[0]
	var stamp *time.Time
	if day != nil {
		d := *day
		stamp = &d
	}
	switch m.Action {
	case domain.ActionOpen:
		r.OpenDate = stamp
	case domain.ActionClose:
		r.CloseDate = stamp
	default:
		return domain.Restriction{}, &domain.StoreError{Store: info.Name, Op: op, Err: &domain.ValidationError{Field: "action", Reason: m.Action.String()}}
	}
	if err := layer.Update(ctx, r); err != nil {
		return domain.Restriction{}, err
	}
	return r, nil
}
