package config

import (
	"os"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"

	"tomscore/pkg/domain"
)

// LayerFile is the YAML document listing restriction layers.
//
//	layers:
//	  - id: 2
//	    name: Bays
type LayerFile struct {
	Layers []domain.RestrictionLayer `yaml:"layers"`
}

// DefaultLayers is the registry used when no layers file is configured.
func DefaultLayers() []domain.RestrictionLayer {
	return []domain.RestrictionLayer{
		{ID: 2, Name: "Bays"},
		{ID: 3, Name: "Lines"},
		{ID: 4, Name: "RestrictionPolygons"},
		{ID: 5, Name: "Signs"},
	}
}

// LoadLayers reads the registry at path, or returns DefaultLayers when path is empty.
func LoadLayers(path string) ([]domain.RestrictionLayer, error) {
	if path == "" {
		return DefaultLayers(), nil
	}
	// #nosec G304 -- operator supplied configuration path
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read layers file")
	}
	return ParseLayers(raw)
}

// ParseLayers decodes and validates a layers document. Several names may
// share an ID; the first listed name is the one resolved by ID.
func ParseLayers(raw []byte) ([]domain.RestrictionLayer, error) {
	var doc LayerFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode layers file")
	}
	if len(doc.Layers) == 0 {
		return nil, errors.New("layers file lists no layers")
	}
	names := make(map[string]struct{}, len(doc.Layers))
	for i, l := range doc.Layers {
		l.Name = strings.TrimSpace(l.Name)
		if l.ID <= 0 {
			return nil, errors.Errorf("layer %d: id must be positive", i)
		}
		if l.Name == "" {
			return nil, errors.Errorf("layer %d: name required", i)
		}
		if _, dup := names[l.Name]; dup {
			return nil, errors.Errorf("layer name %q listed twice", l.Name)
		}
		names[l.Name] = struct{}{}
		doc.Layers[i] = l
	}
	sort.SliceStable(doc.Layers, func(i, j int) bool { return doc.Layers[i].ID < doc.Layers[j].ID })
	return doc.Layers, nil
}
