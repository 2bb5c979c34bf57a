package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tomscore/pkg/domain"
)

type ledgerRecord struct {
	rid    string
	layer  domain.LayerID
	action domain.MembershipAction
}

// beginWithRecords opens a grouped session and stages records for proposal.
func beginWithRecords(t *testing.T, svc *Service, proposal domain.ProposalID, records ...ledgerRecord) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.Coordinator().Begin(ctx))
	for _, rec := range records {
		_, err := svc.Ledger().Add(ctx, rec.rid, rec.layer, proposal, rec.action)
		require.NoError(t, err)
	}
}

func assertRolledBack(t *testing.T, svc *Service, proposal domain.ProposalID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.Coordinator().Rollback(ctx))
	assert.Equal(t, StateIdle, svc.Coordinator().State())
	entries, err := svc.Ledger().EntriesFor(ctx, proposal)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProtocolReplayStopsAtMissingRestriction(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seed(t, svc, bays, domain.Restriction{RestrictionID: "B1"})
	seed(t, svc, bays, domain.Restriction{RestrictionID: "B3"})
	const pid domain.ProposalID = 7
	beginWithRecords(t, svc, pid,
		ledgerRecord{"B1", bays, domain.ActionOpen},
		ledgerRecord{"gone", bays, domain.ActionClose},
		ledgerRecord{"B3", bays, domain.ActionOpen},
	)
	protocol := NewProtocol(svc.Stores(), svc.Ledger(), nil, nil)

	_, err := protocol.Accept(ctx, domain.Proposal{ID: pid, OpenDate: dayPtr(2024, 1, 1)})
	require.ErrorIs(t, err, domain.ErrNotFound)
	name, ok := domain.StoreName(err)
	require.True(t, ok)
	assert.Equal(t, "Bays", name)

	b1 := restrictionByID(t, svc, bays, "B1")
	require.NotNil(t, b1.OpenDate, "stamps applied before the failure stay staged")
	assert.True(t, day(2024, 1, 1).Equal(*b1.OpenDate))
	assert.Nil(t, restrictionByID(t, svc, bays, "B3").OpenDate, "the replay stops at the first failure")

	err = protocol.Reject(ctx, pid)
	require.ErrorIs(t, err, domain.ErrNotFound)
	name, _ = domain.StoreName(err)
	assert.Equal(t, "Bays", name)
	assert.Nil(t, restrictionByID(t, svc, bays, "B1").OpenDate)

	assertRolledBack(t, svc, pid)
}

func TestProtocolReplayRejectsUnknownLayer(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seed(t, svc, bays, domain.Restriction{RestrictionID: "B1"})
	const pid domain.ProposalID = 8
	beginWithRecords(t, svc, pid,
		ledgerRecord{"B1", bays, domain.ActionClose},
		ledgerRecord{"B1", 99, domain.ActionOpen},
	)
	protocol := NewProtocol(svc.Stores(), svc.Ledger(), nil, nil)

	_, err := protocol.Accept(ctx, domain.Proposal{ID: pid, OpenDate: dayPtr(2024, 3, 1)})
	require.ErrorIs(t, err, domain.ErrNotFound)
	name, ok := domain.StoreName(err)
	require.True(t, ok)
	assert.Equal(t, StoreMemberships, name)
	assert.NotNil(t, restrictionByID(t, svc, bays, "B1").CloseDate)

	err = protocol.Reject(ctx, pid)
	require.ErrorIs(t, err, domain.ErrNotFound)
	name, _ = domain.StoreName(err)
	assert.Equal(t, StoreMemberships, name)

	assertRolledBack(t, svc, pid)
	assert.Nil(t, restrictionByID(t, svc, bays, "B1").CloseDate)
}

func TestFailedAcceptCommitsNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seed(t, svc, bays, domain.Restriction{RestrictionID: "B1"})
	p, pc := newProposal(t, svc, "P", dayPtr(2024, 1, 1))
	require.NoError(t, svc.RetireRestriction(ctx, pc, bays, "B1"))
	n, err := svc.SaveRestriction(ctx, pc, bays, domain.Restriction{RestrictionTypeID: 101})
	require.NoError(t, err)

	// Remove the opened row behind the ledger's back.
	_, layer, err := svc.Stores().Restriction(bays)
	require.NoError(t, err)
	require.NoError(t, layer.BeginEdit(ctx))
	require.NoError(t, layer.Delete(ctx, n.FID))
	require.NoError(t, layer.CommitEdit(ctx))

	_, err = svc.AcceptProposal(ctx, p.ID, nil, true)
	require.ErrorIs(t, err, domain.ErrNotFound)
	name, _ := domain.StoreName(err)
	assert.Equal(t, "Bays", name)

	assert.Equal(t, StateIdle, svc.Coordinator().State())
	got, err := svc.Proposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInPreparation, got.Status)
	assert.Nil(t, restrictionByID(t, svc, bays, "B1").CloseDate, "the close stamp was rolled back")
	entries, err := svc.ProposalEntries(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
