package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func TestDayNormalisesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("plus5", 5*3600)
	in := time.Date(2024, 3, 2, 1, 30, 0, 0, loc)
	got := Day(in)
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if !Day(time.Time{}).IsZero() {
		t.Fatalf("zero time must stay zero")
	}
}

func TestProposalStatusTerminal(t *testing.T) {
	cases := []struct {
		status   ProposalStatus
		terminal bool
		name     string
	}{
		{StatusInPreparation, false, "in_preparation"},
		{StatusAccepted, true, "accepted"},
		{StatusRejected, true, "rejected"},
	}
	for _, tc := range cases {
		if tc.status.Terminal() != tc.terminal {
			t.Fatalf("%s: terminal mismatch", tc.name)
		}
		if tc.status.String() != tc.name {
			t.Fatalf("expected %s, got %s", tc.name, tc.status)
		}
		parsed, ok := ParseProposalStatus(tc.name)
		if !ok || parsed != tc.status {
			t.Fatalf("parse %s: got %v %v", tc.name, parsed, ok)
		}
	}
	if _, ok := ParseProposalStatus("draft"); ok {
		t.Fatalf("unexpected parse of unknown status")
	}
}

func TestRestrictionInForceAt(t *testing.T) {
	open := DayPtr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	closed := DayPtr(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	r := Restriction{RestrictionID: "r1", OpenDate: open, CloseDate: closed}
	if r.InForceAt(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("not yet open")
	}
	if !r.InForceAt(time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected in force on open date")
	}
	if r.InForceAt(*closed) {
		t.Fatalf("closed on close date")
	}
	if (Restriction{}).InForceAt(time.Now()) {
		t.Fatalf("undated restriction is staged, never in force")
	}
}

func TestRestrictionCloneIsolatesProperties(t *testing.T) {
	r := Restriction{RestrictionID: "r1", Properties: map[string]any{"RoadName": "High St"}, OpenDate: DayPtr(time.Now())}
	cp := r.Clone()
	cp.Properties["RoadName"] = "Low St"
	*cp.OpenDate = time.Time{}
	if r.Properties["RoadName"] != "High St" || r.OpenDate.IsZero() {
		t.Fatalf("clone shares state with original")
	}
}

func TestRestrictionAttributesFixedColumnsWin(t *testing.T) {
	r := Restriction{FID: 7, RestrictionID: "r1", Properties: map[string]any{"RestrictionID": "spoof", "CPZ": "A"}}
	attrs := r.Attributes()
	if attrs["RestrictionID"] != "r1" || attrs["CPZ"] != "A" || attrs["OpenDate"] != nil || attrs["Open"] != true {
		t.Fatalf("unexpected attributes %+v", attrs)
	}
}

func TestRestrictionGeometryJSONRoundTrip(t *testing.T) {
	r := Restriction{
		RestrictionID: "r1",
		Geometry:      geojson.NewGeometry(orb.LineString{{0, 0}, {1, 1}}),
	}
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Restriction
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ls, ok := back.Geom().(orb.LineString)
	if !ok || len(ls) != 2 || ls[1] != (orb.Point{1, 1}) {
		t.Fatalf("geometry lost in round trip: %#v", back.Geom())
	}
}

func TestTileBound(t *testing.T) {
	if _, ok := (Tile{}).Bound(); ok {
		t.Fatalf("tile without geometry has no bound")
	}
	tile := Tile{Geometry: geojson.NewGeometry(orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}})}
	b, ok := tile.Bound()
	if !ok || b.Max != (orb.Point{10, 10}) {
		t.Fatalf("unexpected bound %+v", b)
	}
}

func TestEntityKeys(t *testing.T) {
	if p := (Proposal{}).WithKey(3); p.Key() != 3 {
		t.Fatalf("proposal key")
	}
	if m := (Membership{}).WithKey(4); m.Key() != 4 {
		t.Fatalf("membership key")
	}
	if tr := (TileRevision{}).WithKey(5); tr.Key() != 5 {
		t.Fatalf("tile revision key")
	}
}

func TestErrorsUnwrapToSentinels(t *testing.T) {
	err := error(&StoreError{Store: "Bays", Op: "commit", Err: Invalid("status", ErrTerminalStatus)})
	if !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("expected sentinel through chain")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "status" {
		t.Fatalf("expected validation error in chain")
	}
	if name, ok := StoreName(err); !ok || name != "Bays" {
		t.Fatalf("expected store name, got %q", name)
	}
	nf := NotFound("proposal", ProposalID(9))
	if !errors.Is(nf, ErrNotFound) || nf.ID != "9" {
		t.Fatalf("unexpected not found %+v", nf)
	}
}
