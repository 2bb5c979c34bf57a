package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/paulmach/orb/geojson"

	"tomscore/internal/blob"
	"tomscore/pkg/domain"
)

// ArchiveDocument is the JSON written for an accepted proposal.
type ArchiveDocument struct {
	Proposal     domain.Proposal            `json:"proposal"`
	Memberships  []domain.Membership        `json:"memberships"`
	Restrictions *geojson.FeatureCollection `json:"restrictions"`
	Tiles        []domain.Tile              `json:"tiles"`
	ArchivedAt   time.Time                  `json:"archived_at"`
}

// ArchiveKey is the blob key of a proposal's acceptance document.
func ArchiveKey(id domain.ProposalID) string {
	return fmt.Sprintf("proposals/%d/acceptance.json", id)
}

// Archive writes acceptance documents to a blob store.
type Archive struct {
	store blob.Store
	now   func() time.Time
}

// NewArchive wraps store.
func NewArchive(store blob.Store, now func() time.Time) *Archive {
	if now == nil {
		now = time.Now
	}
	return &Archive{store: store, now: now}
}

// Document builds the archive document for acc. Restrictions become GeoJSON
// features carrying their attributes and layer.
func (a *Archive) Document(acc Acceptance) ArchiveDocument {
	fc := geojson.NewFeatureCollection()
	layers := make([]domain.LayerID, 0, len(acc.Restrictions))
	for id := range acc.Restrictions {
		layers = append(layers, id)
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i] < layers[j] })
	for _, id := range layers {
		for _, r := range acc.Restrictions[id] {
			f := geojson.NewFeature(r.Geom())
			f.ID = r.RestrictionID
			for k, v := range r.Attributes() {
				if t, ok := v.(time.Time); ok {
					v = t.Format(time.DateOnly)
				}
				f.Properties[k] = v
			}
			f.Properties["LayerID"] = int(id)
			fc.Append(f)
		}
	}
	return ArchiveDocument{
		Proposal:     acc.Proposal,
		Memberships:  acc.Memberships,
		Restrictions: fc,
		Tiles:        acc.Tiles,
		ArchivedAt:   a.now().UTC(),
	}
}

// Write stores the acceptance document and returns its blob info.
func (a *Archive) Write(ctx context.Context, acc Acceptance) (blob.Info, error) {
	payload, err := json.MarshalIndent(a.Document(acc), "", "  ")
	if err != nil {
		return blob.Info{}, errors.Wrap(err, "encode acceptance archive")
	}
	key := ArchiveKey(acc.Proposal.ID)
	info, err := a.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/geo+json",
		Metadata:    map[string]string{"proposal-id": acc.Proposal.ID.String()},
	})
	if err != nil {
		return blob.Info{}, errors.Wrapf(err, "write %s", key)
	}
	return info, nil
}

// Read loads a previously written acceptance document.
func (a *Archive) Read(ctx context.Context, id domain.ProposalID) (ArchiveDocument, error) {
	key := ArchiveKey(id)
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return ArchiveDocument{}, errors.Wrapf(err, "read %s", key)
	}
	defer func() { _ = rc.Close() }()
	var doc ArchiveDocument
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return ArchiveDocument{}, errors.Wrapf(err, "decode %s", key)
	}
	return doc, nil
}
