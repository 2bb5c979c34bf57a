package main

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"tomscore/pkg/domain"
)

type tileRevision struct {
	TileNr     int64   `json:"tile_nr"`
	RevisionNr int     `json:"revision_nr"`
	OpenDate   *string `json:"open_date"`
}

func parseTileNr(v string) (int64, error) {
	nr, err := strconv.ParseInt(v, 10, 64)
	if err != nil || nr <= 0 {
		return 0, errors.Errorf("invalid tile number %q", v)
	}
	return nr, nil
}

func newTileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tile",
		Short: "Register map grid tiles and query their revisions",
	}
	cmd.AddCommand(newTileAddCmd(a), newTileRevisionCmd(a), newTileHistoryCmd(a))
	return cmd
}

func newTileAddCmd(a *app) *cobra.Command {
	var geometry string
	cmd := &cobra.Command{
		Use:   "add <tile-nr>",
		Short: "Register a tile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nr, err := parseTileNr(args[0])
			if err != nil {
				return err
			}
			geom, err := parseGeometry(geometry)
			if err != nil {
				return err
			}
			tile, err := a.svc.AddTile(cmd.Context(), domain.Tile{TileNr: nr, Geometry: geom})
			if err != nil {
				return err
			}
			return out(cmd, tile)
		},
	}
	cmd.Flags().StringVar(&geometry, "geometry", "", "GeoJSON polygon of the tile")
	return cmd
}

func newTileRevisionCmd(a *app) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "revision <tile-nr>",
		Short: "Show the revision of a tile in force on a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nr, err := parseTileNr(args[0])
			if err != nil {
				return err
			}
			d, err := parseDate(asOf)
			if err != nil {
				return err
			}
			rev, open, err := a.svc.TileRevisionAt(cmd.Context(), nr, d)
			if err != nil {
				return err
			}
			res := tileRevision{TileNr: nr, RevisionNr: rev}
			if open != nil {
				s := open.Format("2006-01-02")
				res.OpenDate = &s
			}
			return out(cmd, res)
		},
	}
	cmd.Flags().StringVar(&asOf, "date", "", "Date to resolve (YYYY-MM-DD, required)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newTileHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <tile-nr>",
		Short: "List the revisions of a tile, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nr, err := parseTileNr(args[0])
			if err != nil {
				return err
			}
			hist, err := a.svc.TileHistory(cmd.Context(), nr)
			if err != nil {
				return err
			}
			return out(cmd, hist)
		},
	}
}

func newLayersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "layers",
		Short: "List the restriction layer registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return out(cmd, a.svc.RestrictionLayers())
		},
	}
}
