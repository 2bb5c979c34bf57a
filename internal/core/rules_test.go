package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tomscore/pkg/domain"
)

type fakeView struct {
	layers       []domain.RestrictionLayer
	restrictions map[domain.LayerID][]domain.Restriction
	memberships  []domain.Membership
}

func (v fakeView) RestrictionLayers() []domain.RestrictionLayer { return v.layers }

func (v fakeView) Restrictions(_ context.Context, id domain.LayerID) ([]domain.Restriction, error) {
	return v.restrictions[id], nil
}

func (v fakeView) Memberships(context.Context) ([]domain.Membership, error) {
	return v.memberships, nil
}

func TestSingleOpenVersionRule(t *testing.T) {
	closed := dayPtr(2024, 1, 1)
	view := fakeView{
		layers: testLayers,
		restrictions: map[domain.LayerID][]domain.Restriction{
			bays: {
				{RestrictionID: "a"},
				{RestrictionID: "a"},
				{RestrictionID: "a", CloseDate: closed},
				{RestrictionID: "b"},
				{RestrictionID: "c", CloseDate: closed},
				{RestrictionID: "c", CloseDate: closed},
			},
			lines: {{RestrictionID: "a"}},
		},
	}
	res, err := SingleOpenVersionRule{}.Evaluate(context.Background(), view, nil)
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	v := res.Violations[0]
	assert.Equal(t, "Bays", v.Store)
	assert.Equal(t, "a", v.EntityID)
	assert.Equal(t, domain.SeverityBlock, v.Severity)
}

func TestUniqueMembershipRule(t *testing.T) {
	view := fakeView{
		layers: testLayers,
		memberships: []domain.Membership{
			{ProposalID: 1, RestrictionID: "a", LayerID: bays, Action: domain.ActionOpen},
			{ProposalID: 1, RestrictionID: "a", LayerID: bays, Action: domain.ActionClose},
			{ProposalID: 1, RestrictionID: "a", LayerID: bays, Action: domain.ActionOpen},
			{ProposalID: 2, RestrictionID: "a", LayerID: bays, Action: domain.ActionOpen},
			{ProposalID: 2, RestrictionID: "z", LayerID: 77, Action: domain.ActionOpen},
		},
	}
	res, err := UniqueMembershipRule{}.Evaluate(context.Background(), view, nil)
	require.NoError(t, err)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, domain.SeverityBlock, res.Violations[0].Severity)
	assert.Equal(t, domain.SeverityWarn, res.Violations[1].Severity)
	assert.True(t, res.HasBlocking())
}

func TestRulesBlockCommitOfDuplicateOpenVersions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, layer, err := svc.Stores().Restriction(bays)
	require.NoError(t, err)

	coord := svc.Coordinator()
	require.NoError(t, coord.Begin(ctx))
	_, err = layer.Add(ctx, domain.Restriction{RestrictionID: "dup"})
	require.NoError(t, err)
	_, err = layer.Add(ctx, domain.Restriction{RestrictionID: "dup"})
	require.NoError(t, err)

	_, err = coord.Commit(ctx, layer)
	var rv domain.RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.Contains(t, err.Error(), "single_open_version")
	assert.Equal(t, StateIdle, coord.State())
	rows, err := layer.Query(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRulesCanBeDisabled(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithRulesEngine(nil))
	_, layer, err := svc.Stores().Restriction(bays)
	require.NoError(t, err)
	coord := svc.Coordinator()
	require.NoError(t, coord.Begin(ctx))
	for i := 0; i < 2; i++ {
		_, err = layer.Add(ctx, domain.Restriction{RestrictionID: "dup"})
		require.NoError(t, err)
	}
	_, err = coord.Commit(ctx, layer)
	require.NoError(t, err)
}

func TestDefaultRulesEngine(t *testing.T) {
	assert.Equal(t, []string{"single_open_version", "unique_membership"}, DefaultRulesEngine().Rules())
}
