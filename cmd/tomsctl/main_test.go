package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tomscore/pkg/domain"
)

type cli struct {
	t    *testing.T
	base []string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	layers := filepath.Join(dir, "layers.yaml")
	require.NoError(t, os.WriteFile(layers, []byte("layers:\n  - id: 2\n    name: Bays\n  - id: 5\n    name: Signs\n"), 0o600))
	t.Setenv("TOMS_ARCHIVE_DRIVER", "none")
	return &cli{t: t, base: []string{
		"--storage", "sqlite",
		"--sqlite-path", filepath.Join(dir, "toms.db"),
		"--layers-file", layers,
		"--env-file", filepath.Join(dir, "missing.env"),
		"--log-level", "silent",
	}}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	stdout, _, err := c.runStreams(args...)
	return stdout, err
}

func (c *cli) runStreams(args ...string) (string, string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append(append([]string{}, args...), c.base...)
	err := execute(context.Background(), full, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func (c *cli) runJSON(v any, args ...string) {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err)
	require.NoError(c.t, json.Unmarshal([]byte(out), v), out)
}

func TestProposalLifecycle(t *testing.T) {
	c := newCLI(t)

	var p domain.Proposal
	c.runJSON(&p, "proposal", "create", "--title", "Mill Road CPZ", "--open-date", "2024-04-01")
	assert.Equal(t, domain.ProposalID(1), p.ID)
	assert.Equal(t, domain.StatusInPreparation, p.Status)

	var r domain.Restriction
	c.runJSON(&r, "restriction", "save", "--proposal", "1", "--layer", "2", "--type", "201",
		"--geometry", `{"type":"Point","coordinates":[0.12,52.2]}`, "--prop", "RoadName=Mill Road", "--prop", "NrBays=4")
	require.NotEmpty(t, r.RestrictionID)
	assert.Equal(t, "Mill Road", r.Properties["RoadName"])
	assert.Equal(t, float64(4), r.Properties["NrBays"])

	var view proposalView
	c.runJSON(&view, "proposal", "show", "1")
	require.Len(t, view.Entries, 1)
	assert.Equal(t, domain.ActionOpen, view.Entries[0].Action)

	_, err := c.run("proposal", "accept", "1")
	require.ErrorIs(t, err, domain.ErrNotConfirmed)

	c.runJSON(&p, "proposal", "accept", "1", "--yes")
	assert.Equal(t, domain.StatusAccepted, p.Status)

	var inForce []domain.Restriction
	c.runJSON(&inForce, "restriction", "list", "--layer", "2", "--in-force", "2024-04-01")
	require.Len(t, inForce, 1)
	assert.Equal(t, r.RestrictionID, inForce[0].RestrictionID)

	c.runJSON(&inForce, "restriction", "list", "--layer", "2", "--in-force", "2024-03-31")
	assert.Empty(t, inForce)

	var filtered []domain.Restriction
	c.runJSON(&filtered, "restriction", "list", "--layer", "2", "--filter", `attrs["RoadName"] == "Mill Road"`)
	assert.Len(t, filtered, 1)

	var list []domain.Proposal
	c.runJSON(&list, "proposal", "list")
	require.Len(t, list, 1)

	_, err = c.run("proposal", "reject", "1", "--yes")
	require.ErrorIs(t, err, domain.ErrTerminalStatus)
}

func TestRestrictionRetireAndWithdraw(t *testing.T) {
	c := newCLI(t)
	var p domain.Proposal
	c.runJSON(&p, "proposal", "create", "--title", "P")
	var r domain.Restriction
	c.runJSON(&r, "restriction", "save", "--proposal", "1", "--layer", "5")

	var res map[string]string
	c.runJSON(&res, "restriction", "withdraw", r.RestrictionID, "--proposal", "1", "--layer", "5")
	assert.Equal(t, r.RestrictionID, res["withdrawn"])

	var rows []domain.Restriction
	c.runJSON(&rows, "restriction", "list", "--layer", "5")
	assert.Empty(t, rows)

	_, err := c.run("restriction", "retire", "nope", "--proposal", "1", "--layer", "5")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = c.run("restriction", "save", "--proposal", "1", "--layer", "3")
	require.ErrorIs(t, err, domain.ErrNotFound, "layer 3 is not in the registry file")
}

func TestTileCommands(t *testing.T) {
	c := newCLI(t)
	var tile domain.Tile
	c.runJSON(&tile, "tile", "add", "12", "--geometry", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`)
	assert.Equal(t, int64(12), tile.TileNr)

	var p domain.Proposal
	c.runJSON(&p, "proposal", "create", "--title", "P", "--open-date", "2024-01-01")
	var r domain.Restriction
	c.runJSON(&r, "restriction", "save", "--proposal", "1", "--layer", "2", "--geometry", `{"type":"Point","coordinates":[0.5,0.5]}`)
	c.runJSON(&p, "proposal", "accept", "1", "--yes")

	var rev tileRevision
	c.runJSON(&rev, "tile", "revision", "12", "--date", "2024-02-01")
	assert.Equal(t, 1, rev.RevisionNr)
	require.NotNil(t, rev.OpenDate)
	assert.Equal(t, "2024-01-01", *rev.OpenDate)

	c.runJSON(&rev, "tile", "revision", "12", "--date", "2023-12-31")
	assert.Equal(t, 0, rev.RevisionNr)
	assert.Nil(t, rev.OpenDate)

	var hist []domain.TileRevision
	c.runJSON(&hist, "tile", "history", "12")
	require.Len(t, hist, 1)
	assert.Equal(t, domain.ProposalID(1), hist[0].ProposalID)

	_, err := c.run("tile", "add", "zero")
	require.Error(t, err)
}

func TestLayersCommand(t *testing.T) {
	c := newCLI(t)
	var layers []domain.RestrictionLayer
	c.runJSON(&layers, "layers")
	assert.Equal(t, []domain.RestrictionLayer{{ID: 2, Name: "Bays"}, {ID: 5, Name: "Signs"}}, layers)
}

func TestRootRejectsBadStorage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), []string{"layers", "--storage", "mysql", "--env-file", filepath.Join(t.TempDir(), "none")}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOMS_STORAGE_DRIVER")
}

func TestParseProperties(t *testing.T) {
	props := parseProperties(map[string]string{"a": "1", "b": "true", "c": "x"})
	assert.Equal(t, map[string]any{"a": int64(1), "b": true, "c": "x"}, props)
	assert.Nil(t, parseProperties(nil))
}

func TestMetricsFlagWritesExposition(t *testing.T) {
	c := newCLI(t)
	_, stderr, err := c.runStreams("proposal", "create", "--title", "Metered", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, stderr, "# TYPE tomscore_operations_total counter")
	assert.Contains(t, stderr, `tomscore_operations_total{operation="create_proposal",result="success"} 1`)

	_, stderr, err = c.runStreams("proposal", "list")
	require.NoError(t, err)
	assert.NotContains(t, stderr, "tomscore_operations_total")
}

func TestLayerNamesAndStatusFilter(t *testing.T) {
	c := newCLI(t)
	var p domain.Proposal
	c.runJSON(&p, "proposal", "create", "--title", "Signs review", "--open-date", "2024-05-01")
	c.runJSON(&p, "proposal", "create", "--title", "Later")

	var r domain.Restriction
	c.runJSON(&r, "restriction", "save", "--proposal", "1", "--layer", "Signs", "--type", "601")
	var rows []domain.Restriction
	c.runJSON(&rows, "restriction", "list", "--layer", "5")
	require.Len(t, rows, 1)
	assert.Equal(t, r.RestrictionID, rows[0].RestrictionID)

	_, err := c.run("restriction", "list", "--layer", "Lines")
	require.ErrorIs(t, err, domain.ErrNotFound)

	c.runJSON(&p, "proposal", "accept", "1", "--yes")
	var accepted, preparing []domain.Proposal
	c.runJSON(&accepted, "proposal", "list", "--status", "accepted")
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.ProposalID(1), accepted[0].ID)
	c.runJSON(&preparing, "proposal", "list", "--status", "in_preparation")
	require.Len(t, preparing, 1)
	assert.Equal(t, "Later", preparing[0].Title)

	_, err = c.run("proposal", "list", "--status", "draft")
	require.ErrorContains(t, err, "invalid status")
}
