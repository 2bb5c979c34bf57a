package main

import (
	"time"

	"github.com/spf13/cobra"

	"tomscore/internal/core"
	"tomscore/pkg/domain"
)

type restrictionTarget struct {
	proposal string
	layer    string
}

func (t *restrictionTarget) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.proposal, "proposal", "", "Proposal id to edit under (required)")
	cmd.Flags().StringVar(&t.layer, "layer", "", "Restriction layer id or name (required)")
	_ = cmd.MarkFlagRequired("proposal")
	_ = cmd.MarkFlagRequired("layer")
}

func (t *restrictionTarget) resolve(cmd *cobra.Command, a *app) (core.ProposalContext, domain.LayerID, error) {
	id, err := parseProposalID(t.proposal)
	if err != nil {
		return core.ProposalContext{}, 0, err
	}
	pc, err := a.svc.Context(cmd.Context(), id)
	if err != nil {
		return core.ProposalContext{}, 0, err
	}
	layer, err := parseLayer(a, t.layer)
	if err != nil {
		return core.ProposalContext{}, 0, err
	}
	return pc, layer, nil
}

func newRestrictionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restriction",
		Short: "Stage restriction edits under a proposal",
	}
	cmd.AddCommand(
		newRestrictionSaveCmd(a),
		newRestrictionRetireCmd(a),
		newRestrictionWithdrawCmd(a),
		newRestrictionListCmd(a),
	)
	return cmd
}

func newRestrictionSaveCmd(a *app) *cobra.Command {
	var (
		target   restrictionTarget
		rid      string
		typeID   int
		geometry string
		props    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create a restriction, or edit one (cloning it when the proposal does not own it)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pc, layer, err := target.resolve(cmd, a)
			if err != nil {
				return err
			}
			geom, err := parseGeometry(geometry)
			if err != nil {
				return err
			}
			r := domain.Restriction{
				RestrictionID:     rid,
				RestrictionTypeID: typeID,
				Geometry:          geom,
				Properties:        parseProperties(props),
			}
			saved, err := a.svc.SaveRestriction(cmd.Context(), pc, layer, r)
			if err != nil {
				return err
			}
			return out(cmd, saved)
		},
	}
	target.bind(cmd)
	cmd.Flags().StringVar(&rid, "id", "", "RestrictionID to edit; empty creates a new restriction")
	cmd.Flags().IntVar(&typeID, "type", 0, "Restriction type id")
	cmd.Flags().StringVar(&geometry, "geometry", "", "GeoJSON geometry")
	cmd.Flags().StringToStringVar(&props, "prop", nil, "Attribute key=value (repeatable)")
	return cmd
}

func newRestrictionRetireCmd(a *app) *cobra.Command {
	var target restrictionTarget
	cmd := &cobra.Command{
		Use:   "retire <restriction-id>",
		Short: "Stage the closure of a restriction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, layer, err := target.resolve(cmd, a)
			if err != nil {
				return err
			}
			if err := a.svc.RetireRestriction(cmd.Context(), pc, layer, args[0]); err != nil {
				return err
			}
			return out(cmd, map[string]string{"retired": args[0]})
		},
	}
	target.bind(cmd)
	return cmd
}

func newRestrictionWithdrawCmd(a *app) *cobra.Command {
	var target restrictionTarget
	cmd := &cobra.Command{
		Use:   "withdraw <restriction-id>",
		Short: "Abandon a staged restriction edit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, layer, err := target.resolve(cmd, a)
			if err != nil {
				return err
			}
			if err := a.svc.WithdrawRestriction(cmd.Context(), pc, layer, args[0]); err != nil {
				return err
			}
			return out(cmd, map[string]string{"withdrawn": args[0]})
		},
	}
	target.bind(cmd)
	return cmd
}

func newRestrictionListCmd(a *app) *cobra.Command {
	var (
		layer  string
		filter string
		asOf   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List restrictions of a layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := parseLayer(a, layer)
			if err != nil {
				return err
			}
			var rows []domain.Restriction
			if asOf != "" {
				var d time.Time
				if d, err = parseDate(asOf); err != nil {
					return err
				}
				rows, err = a.svc.RestrictionsInForce(cmd.Context(), id, d)
			} else {
				rows, err = a.svc.Restrictions(cmd.Context(), id, filter)
			}
			if err != nil {
				return err
			}
			return out(cmd, rows)
		},
	}
	cmd.Flags().StringVar(&layer, "layer", "", "Restriction layer id or name (required)")
	cmd.Flags().StringVar(&filter, "filter", "", `CEL filter, e.g. 'RestrictionTypeID == 201 && attrs["RoadName"] == "High St"'`)
	cmd.Flags().StringVar(&asOf, "in-force", "", "Only restrictions in force on this date (YYYY-MM-DD)")
	cmd.MarkFlagsMutuallyExclusive("filter", "in-force")
	_ = cmd.MarkFlagRequired("layer")
	return cmd
}
