package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tomscore/pkg/domain"
)

func TestCompileFiltersRestrictions(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []domain.Restriction{
		{RestrictionID: "r1", RestrictionTypeID: 201, OpenDate: &jan, Properties: map[string]any{"RoadName": "High St"}},
		{RestrictionID: "r2", RestrictionTypeID: 216, OpenDate: &mar},
		{RestrictionID: "r3", RestrictionTypeID: 201},
	}

	cases := []struct {
		name string
		expr string
		want []string
	}{
		{"by id", `RestrictionID == "r2"`, []string{"r2"}},
		{"by type", `RestrictionTypeID == 201`, []string{"r1", "r3"}},
		{"open before date", `OpenDate <= timestamp("2024-02-01T00:00:00Z")`, []string{"r1"}},
		{"staged", `OpenDate == null`, []string{"r3"}},
		{"free-form property", `"RoadName" in attrs && attrs["RoadName"] == "High St"`, []string{"r1"}},
		{"still open", `Open`, []string{"r1", "r2", "r3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Compile[domain.Restriction](tc.expr)
			require.NoError(t, err)
			var got []string
			for _, r := range rows {
				if expr.Match(r) {
					got = append(got, r.RestrictionID)
				}
			}
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.expr, expr.String())
		})
	}
}

func TestCompileRejectsInvalidExpression(t *testing.T) {
	_, err := Compile[domain.Membership](`ProposalID ==`)
	require.Error(t, err)

	_, err = Compile[domain.Membership](`UnknownAttr == 1`)
	require.Error(t, err)
}

func TestEvalErrorsCountAsNoMatch(t *testing.T) {
	expr, err := Compile[domain.Membership](`ProposalID + 1`)
	require.NoError(t, err)
	_, err = expr.Eval(domain.Membership{ProposalID: 1})
	require.Error(t, err)
	assert.False(t, expr.Match(domain.Membership{ProposalID: 1}))
	assert.Error(t, expr.Err())
}

func TestMembershipFilterWithLayerStore(t *testing.T) {
	expr, err := Compile[domain.Membership](`ProposalID == 2 && Action == 1`)
	require.NoError(t, err)
	assert.True(t, domain.MatchAll[domain.Membership](expr, domain.Membership{ProposalID: 2, Action: domain.ActionOpen}))
	assert.False(t, domain.MatchAll[domain.Membership](expr, domain.Membership{ProposalID: 2, Action: domain.ActionClose}))
}
