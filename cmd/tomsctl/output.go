package main

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"tomscore/pkg/domain"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func out(cmd *cobra.Command, v any) error {
	return writeJSON(cmd.OutOrStdout(), v)
}

func parseDate(v string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid date %q (want YYYY-MM-DD)", v)
	}
	return t.UTC(), nil
}

func parseOptionalDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := parseDate(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseProposalID(v string) (domain.ProposalID, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid proposal id %q", v)
	}
	return domain.ProposalID(id), nil
}

// parseLayer accepts a layer id or a name from the layer registry.
func parseLayer(a *app, v string) (domain.LayerID, error) {
	v = strings.TrimSpace(v)
	if id, err := strconv.ParseInt(v, 10, 64); err == nil {
		return domain.LayerID(id), nil
	}
	info, _, err := a.svc.Stores().RestrictionByName(v)
	if err != nil {
		return 0, err
	}
	return info.ID, nil
}

func parseStatus(v string) (domain.ProposalStatus, error) {
	st, ok := domain.ParseProposalStatus(strings.ToLower(strings.TrimSpace(v)))
	if !ok {
		return 0, errors.Errorf("invalid status %q (want in_preparation, accepted or rejected)", v)
	}
	return st, nil
}

func parseGeometry(v string) (*geojson.Geometry, error) {
	if v == "" {
		return nil, nil
	}
	g, err := geojson.UnmarshalGeometry([]byte(v))
	if err != nil {
		return nil, errors.Wrap(err, "invalid --geometry")
	}
	return g, nil
}

// parseProperties turns key=value pairs into attributes; integer and boolean
// values are typed, everything else stays a string.
func parseProperties(pairs map[string]string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	props := make(map[string]any, len(pairs))
	for k, v := range pairs {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			props[k] = n
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			props[k] = b
			continue
		}
		props[k] = v
	}
	return props
}
