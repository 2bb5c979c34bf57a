package core

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"

	"tomscore/pkg/domain"
)

const (
	bays  domain.LayerID = 2
	lines domain.LayerID = 3
)

var testLayers = []domain.RestrictionLayer{
	{ID: bays, Name: "Bays"},
	{ID: lines, Name: "Lines"},
	{ID: lines, Name: "Lines.label_pos"},
}

func fixedClock() func() time.Time {
	now := time.Date(2023, 12, 1, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock())}, opts...)
	svc := NewService(NewMemoryStores(testLayers), opts...)
	t.Cleanup(svc.Close)
	return svc
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}

func square(minX, minY, size float64) *geojson.Geometry {
	return geojson.NewGeometry(orb.Polygon{orb.Ring{
		{minX, minY}, {minX + size, minY}, {minX + size, minY + size}, {minX, minY + size}, {minX, minY},
	}})
}

func point(x, y float64) *geojson.Geometry {
	return geojson.NewGeometry(orb.Point{x, y})
}

// seed commits r straight into a restriction layer as baseline data.
func seed(t *testing.T, svc *Service, layerID domain.LayerID, r domain.Restriction) domain.Restriction {
	t.Helper()
	ctx := context.Background()
	_, layer, err := svc.Stores().Restriction(layerID)
	require.NoError(t, err)
	require.NoError(t, layer.BeginEdit(ctx))
	added, err := layer.Add(ctx, r)
	require.NoError(t, err)
	require.NoError(t, layer.CommitEdit(ctx))
	return added
}

func restrictionByID(t *testing.T, svc *Service, layerID domain.LayerID, rid string) domain.Restriction {
	t.Helper()
	info, layer, err := svc.Stores().Restriction(layerID)
	require.NoError(t, err)
	r, err := findRestriction(context.Background(), info, layer, rid)
	require.NoError(t, err)
	return r
}

func newProposal(t *testing.T, svc *Service, title string, open *time.Time) (domain.Proposal, ProposalContext) {
	t.Helper()
	p, err := svc.CreateProposal(context.Background(), title, "", open)
	require.NoError(t, err)
	return p, ForProposal(p)
}
