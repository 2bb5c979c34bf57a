package core

import (
	"context"
	"sort"
	"time"

	"github.com/paulmach/orb"

	"tomscore/pkg/domain"
)

// TileTracker maintains per-tile revision numbers and their history.
type TileTracker struct {
	tiles     domain.Layer[domain.Tile]
	history   domain.Layer[domain.TileRevision]
	proposals domain.Layer[domain.Proposal]
}

// NewTileTracker wires the tracker to its stores.
func NewTileTracker(stores *Stores) *TileTracker {
	return &TileTracker{tiles: stores.Tiles, history: stores.TileHistory, proposals: stores.Proposals}
}

// Tile returns the tile numbered nr.
func (t *TileTracker) Tile(ctx context.Context, nr int64) (domain.Tile, error) {
	rows, err := t.tiles.Query(ctx, domain.Where[domain.Tile](domain.Eq("TileNr", nr)))
	if err != nil {
		return domain.Tile{}, err
	}
	if len(rows) == 0 {
		return domain.Tile{}, domain.NotFound("tile", nr)
	}
	return rows[0], nil
}

// AddTile registers a new map grid tile.
func (t *TileTracker) AddTile(ctx context.Context, tile domain.Tile) (domain.Tile, error) {
	if tile.TileNr <= 0 {
		return domain.Tile{}, &domain.ValidationError{Field: "tile_nr", Reason: "must be positive"}
	}
	if _, err := t.Tile(ctx, tile.TileNr); err == nil {
		return domain.Tile{}, &domain.ValidationError{Field: "tile_nr", Reason: "already registered"}
	}
	tile.FID = 0
	return t.tiles.Add(ctx, tile)
}

// History returns the revisions of tile nr, newest first.
func (t *TileTracker) History(ctx context.Context, nr int64) ([]domain.TileRevision, error) {
	rows, err := t.history.Query(ctx, domain.Where[domain.TileRevision](domain.Eq("TileNr", nr)))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].RevisionNr > rows[j].RevisionNr })
	return rows, nil
}

// RevisionAtDate returns the newest revision of tile nr whose proposal was
// open on or before day, or (0, nil) when none applies.
func (t *TileTracker) RevisionAtDate(ctx context.Context, nr int64, day time.Time) (int, *time.Time, error) {
	day = domain.Day(day)
	hist, err := t.History(ctx, nr)
	if err != nil {
		return 0, nil, err
	}
	for _, rev := range hist {
		rows, err := t.proposals.Query(ctx, domain.Where[domain.Proposal](domain.Eq("ProposalID", rev.ProposalID)))
		if err != nil {
			return 0, nil, err
		}
		if len(rows) == 0 || rows[0].OpenDate == nil {
			continue
		}
		if !rows[0].OpenDate.After(day) {
			open := *rows[0].OpenDate
			return rev.RevisionNr, &open, nil
		}
	}
	return 0, nil, nil
}

// UpdateRevisionNr records that proposal revised tile nr. It refuses when
// the tile already carries a revision dated after the proposal opens.
func (t *TileTracker) UpdateRevisionNr(ctx context.Context, nr int64, proposal domain.Proposal) (domain.Tile, error) {
	if proposal.OpenDate == nil {
		return domain.Tile{}, &domain.ValidationError{Field: "open_date", Reason: "proposal has no open date"}
	}
	tile, err := t.Tile(ctx, nr)
	if err != nil {
		return domain.Tile{}, err
	}
	open := domain.Day(*proposal.OpenDate)
	if tile.LastRevisionDate != nil && tile.LastRevisionDate.After(open) {
		return domain.Tile{}, domain.Invalid("revision_date", domain.ErrRevisionOutOfSync)
	}
	tile.RevisionNr++
	tile.LastRevisionDate = &open
	if err := t.tiles.Update(ctx, tile); err != nil {
		return domain.Tile{}, err
	}
	if _, err := t.history.Add(ctx, domain.TileRevision{
		TileNr:     nr,
		ProposalID: proposal.ID,
		RevisionNr: tile.RevisionNr,
	}); err != nil {
		return domain.Tile{}, err
	}
	return tile, nil
}

// TilesTouching returns the tiles whose extent intersects any geometry's
// bound, in FID order.
func (t *TileTracker) TilesTouching(ctx context.Context, geoms []orb.Geometry) ([]domain.Tile, error) {
	bounds := make([]orb.Bound, 0, len(geoms))
	for _, g := range geoms {
		if g != nil {
			bounds = append(bounds, g.Bound())
		}
	}
	if len(bounds) == 0 {
		return nil, nil
	}
	return t.tiles.Query(ctx, domain.FilterFunc[domain.Tile](func(tile domain.Tile) bool {
		tb, ok := tile.Bound()
		if !ok {
			return false
		}
		for _, b := range bounds {
			if tb.Intersects(b) {
				return true
			}
		}
		return false
	}))
}
