package core

import (
	"context"
	"sort"

	"tomscore/internal/infra/persistence/memory"
	"tomscore/pkg/domain"
)

// Fixed store names. Restriction layers are named by the layer registry.
const (
	StoreProposals   = "Proposals"
	StoreMemberships = "RestrictionsInProposals"
	StoreTiles       = "MapGrid"
	StoreTileHistory = "TilesInAcceptedProposals"
)

// Stores is the set of layers the core works against.
type Stores struct {
	Proposals   domain.Layer[domain.Proposal]
	Memberships domain.Layer[domain.Membership]
	Tiles       domain.Layer[domain.Tile]
	TileHistory domain.Layer[domain.TileRevision]

	layers       []domain.RestrictionLayer
	restrictions map[string]domain.Layer[domain.Restriction]
}

// NewStores assembles a store set. Every registry layer needs a
// restriction layer under the same name.
func NewStores(
	proposals domain.Layer[domain.Proposal],
	memberships domain.Layer[domain.Membership],
	tiles domain.Layer[domain.Tile],
	history domain.Layer[domain.TileRevision],
	layers []domain.RestrictionLayer,
	restrictions map[string]domain.Layer[domain.Restriction],
) (*Stores, error) {
	s := &Stores{
		Proposals:    proposals,
		Memberships:  memberships,
		Tiles:        tiles,
		TileHistory:  history,
		layers:       append([]domain.RestrictionLayer(nil), layers...),
		restrictions: make(map[string]domain.Layer[domain.Restriction], len(restrictions)),
	}
	for _, l := range layers {
		layer, ok := restrictions[l.Name]
		if !ok || layer == nil {
			return nil, domain.NotFound("restriction layer", l.Name)
		}
		s.restrictions[l.Name] = layer
	}
	return s, nil
}

// NewMemoryStores returns an in-memory store set for layers.
func NewMemoryStores(layers []domain.RestrictionLayer) *Stores {
	restrictions := make(map[string]domain.Layer[domain.Restriction], len(layers))
	for _, l := range layers {
		restrictions[l.Name] = memory.NewLayer[domain.Restriction](l.Name)
	}
	s, err := NewStores(
		memory.NewLayer[domain.Proposal](StoreProposals),
		memory.NewLayer[domain.Membership](StoreMemberships),
		memory.NewLayer[domain.Tile](StoreTiles),
		memory.NewLayer[domain.TileRevision](StoreTileHistory),
		layers,
		restrictions,
	)
	if err != nil {
		panic(err)
	}
	return s
}

// RestrictionLayers returns the layer registry in registration order.
func (s *Stores) RestrictionLayers() []domain.RestrictionLayer {
	return append([]domain.RestrictionLayer(nil), s.layers...)
}

// Restriction resolves a layer by ID. Several names may share an ID; the
// first registered wins.
func (s *Stores) Restriction(id domain.LayerID) (domain.RestrictionLayer, domain.Layer[domain.Restriction], error) {
	for _, l := range s.layers {
		if l.ID == id {
			return l, s.restrictions[l.Name], nil
		}
	}
	return domain.RestrictionLayer{}, nil, domain.NotFound("restriction layer", int(id))
}

// RestrictionByName resolves a layer by name.
func (s *Stores) RestrictionByName(name string) (domain.RestrictionLayer, domain.Layer[domain.Restriction], error) {
	for _, l := range s.layers {
		if l.Name == name {
			return l, s.restrictions[l.Name], nil
		}
	}
	return domain.RestrictionLayer{}, nil, domain.NotFound("restriction layer", name)
}

// Group returns the stores bound into a grouped edit session, fixed stores
// first and restriction layers in registration order.
func (s *Stores) Group() []domain.EditableStore {
	out := []domain.EditableStore{s.Proposals, s.Memberships, s.Tiles, s.TileHistory}
	for _, l := range s.layers {
		out = append(out, s.restrictions[l.Name])
	}
	return out
}

// storeView exposes the (possibly pending) store contents to rules.
type storeView struct {
	stores *Stores
}

func (v storeView) RestrictionLayers() []domain.RestrictionLayer {
	return v.stores.RestrictionLayers()
}

func (v storeView) Restrictions(ctx context.Context, id domain.LayerID) ([]domain.Restriction, error) {
	_, layer, err := v.stores.Restriction(id)
	if err != nil {
		return nil, err
	}
	return layer.Query(ctx, nil)
}

func (v storeView) Memberships(ctx context.Context) ([]domain.Membership, error) {
	return v.stores.Memberships.Query(ctx, nil)
}

func sortProposals(ps []domain.Proposal) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}
