// Package domain defines the proposal, restriction, membership and tile
// records managed by tomscore, together with the persistence contracts and
// rule evaluation primitives shared by every backend.
package domain

import (
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ProposalID identifies a proposal. Zero means "no proposal" and is read-only.
type ProposalID int64

// NoProposal is the read-only proposal identity.
const NoProposal ProposalID = 0

func (id ProposalID) String() string { return strconv.FormatInt(int64(id), 10) }

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus int

// Proposal statuses. Accepted and Rejected are terminal.
const (
	StatusInPreparation ProposalStatus = 1
	StatusAccepted      ProposalStatus = 2
	StatusRejected      ProposalStatus = 3
)

func (s ProposalStatus) String() string {
	switch s {
	case StatusInPreparation:
		return "in_preparation"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s ProposalStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// ParseProposalStatus maps a status name back to its value.
func ParseProposalStatus(v string) (ProposalStatus, bool) {
	switch v {
	case "in_preparation", "inpreparation", "1":
		return StatusInPreparation, true
	case "accepted", "2":
		return StatusAccepted, true
	case "rejected", "3":
		return StatusRejected, true
	}
	return 0, false
}

// Proposal is a named, dated change-set of restriction edits.
type Proposal struct {
	FID       int64          `json:"fid"`
	ID        ProposalID     `json:"proposal_id"`
	Title     string         `json:"title"`
	Status    ProposalStatus `json:"status"`
	Notes     string         `json:"notes,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	OpenDate  *time.Time     `json:"open_date,omitempty"`
}

// Attributes implements Record.
func (p Proposal) Attributes() map[string]any {
	return map[string]any{
		"FID":        p.FID,
		"ProposalID": int64(p.ID),
		"Title":      p.Title,
		"Status":     int64(p.Status),
		"Notes":      p.Notes,
		"CreatedAt":  p.CreatedAt,
		"OpenDate":   dateValue(p.OpenDate),
	}
}

// LayerID identifies a restriction layer in the layer registry.
type LayerID int

// RestrictionLayer maps a registry identifier to a named feature layer.
type RestrictionLayer struct {
	ID   LayerID `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
}

// Restriction is a spatial parking control (bay, line, sign, polygon).
// RestrictionID is the stable identity; FID is the storage row.
type Restriction struct {
	FID               int64             `json:"fid"`
	RestrictionID     string            `json:"restriction_id"`
	RestrictionTypeID int               `json:"restriction_type_id,omitempty"`
	Geometry          *geojson.Geometry `json:"geometry,omitempty"`
	OpenDate          *time.Time        `json:"open_date,omitempty"`
	CloseDate         *time.Time        `json:"close_date,omitempty"`
	Properties        map[string]any    `json:"properties,omitempty"`
}

// Attributes implements Record. Free-form properties are exposed alongside
// the fixed columns; fixed columns win on name clashes.
func (r Restriction) Attributes() map[string]any {
	out := make(map[string]any, len(r.Properties)+6)
	for k, v := range r.Properties {
		out[k] = v
	}
	out["FID"] = r.FID
	out["RestrictionID"] = r.RestrictionID
	out["RestrictionTypeID"] = int64(r.RestrictionTypeID)
	out["OpenDate"] = dateValue(r.OpenDate)
	out["CloseDate"] = dateValue(r.CloseDate)
	out["Open"] = r.IsOpen()
	return out
}

// Geom returns the orb geometry or nil.
func (r Restriction) Geom() orb.Geometry {
	if r.Geometry == nil {
		return nil
	}
	return r.Geometry.Geometry()
}

// IsOpen reports whether the restriction has no close date.
func (r Restriction) IsOpen() bool { return r.CloseDate == nil }

// InForceAt reports whether the restriction is dated open at day and not yet closed.
func (r Restriction) InForceAt(day time.Time) bool {
	day = Day(day)
	if r.OpenDate == nil || r.OpenDate.After(day) {
		return false
	}
	return r.CloseDate == nil || r.CloseDate.After(day)
}

// Clone returns a deep copy of the property map; geometry is shared and treated as immutable.
func (r Restriction) Clone() Restriction {
	cp := r
	if r.Properties != nil {
		cp.Properties = make(map[string]any, len(r.Properties))
		for k, v := range r.Properties {
			cp.Properties[k] = v
		}
	}
	cp.OpenDate = cloneDate(r.OpenDate)
	cp.CloseDate = cloneDate(r.CloseDate)
	return cp
}

// MembershipAction is the action applied to a restriction on acceptance.
type MembershipAction int

// Actions on proposal acceptance.
const (
	ActionOpen  MembershipAction = 1
	ActionClose MembershipAction = 2
)

func (a MembershipAction) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	default:
		return "unknown(" + strconv.Itoa(int(a)) + ")"
	}
}

// Membership links a restriction version to a proposal with an intended action.
type Membership struct {
	FID           int64            `json:"fid"`
	ProposalID    ProposalID       `json:"proposal_id"`
	RestrictionID string           `json:"restriction_id"`
	LayerID       LayerID          `json:"layer_id"`
	Action        MembershipAction `json:"action"`
}

// Attributes implements Record.
func (m Membership) Attributes() map[string]any {
	return map[string]any{
		"FID":           m.FID,
		"ProposalID":    int64(m.ProposalID),
		"RestrictionID": m.RestrictionID,
		"LayerID":       int64(m.LayerID),
		"Action":        int64(m.Action),
	}
}

// Matches reports whether m refers to the restriction/layer/proposal triple.
func (m Membership) Matches(rid string, layer LayerID, proposal ProposalID) bool {
	return m.RestrictionID == rid && m.LayerID == layer && m.ProposalID == proposal
}

// Tile is a map grid cell versioned independently of restrictions.
type Tile struct {
	FID              int64             `json:"fid"`
	TileNr           int64             `json:"tile_nr"`
	RevisionNr       int               `json:"revision_nr"`
	LastRevisionDate *time.Time        `json:"last_revision_date,omitempty"`
	Geometry         *geojson.Geometry `json:"geometry,omitempty"`
}

// Attributes implements Record.
func (t Tile) Attributes() map[string]any {
	return map[string]any{
		"FID":              t.FID,
		"TileNr":           t.TileNr,
		"RevisionNr":       int64(t.RevisionNr),
		"LastRevisionDate": dateValue(t.LastRevisionDate),
	}
}

// Bound returns the tile extent, or an empty bound when the tile has no geometry.
func (t Tile) Bound() (orb.Bound, bool) {
	if t.Geometry == nil || t.Geometry.Geometry() == nil {
		return orb.Bound{}, false
	}
	return t.Geometry.Geometry().Bound(), true
}

// TileRevision records that an accepted proposal produced a tile revision.
type TileRevision struct {
	FID        int64      `json:"fid"`
	TileNr     int64      `json:"tile_nr"`
	ProposalID ProposalID `json:"proposal_id"`
	RevisionNr int        `json:"revision_nr"`
}

// Attributes implements Record.
func (t TileRevision) Attributes() map[string]any {
	return map[string]any{
		"FID":        t.FID,
		"TileNr":     t.TileNr,
		"ProposalID": int64(t.ProposalID),
		"RevisionNr": int64(t.RevisionNr),
	}
}

// Record is implemented by every stored type so filters and log fields can
// address attributes by name.
type Record interface {
	Attributes() map[string]any
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	u := t.UTC()
	y, m, d := u.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayPtr returns a pointer to Day(t).
func DayPtr(t time.Time) *time.Time {
	d := Day(t)
	return &d
}

func cloneDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func dateValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
