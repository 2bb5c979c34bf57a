package main

import (
	"github.com/spf13/cobra"

	"tomscore/pkg/domain"
)

func newProposalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Create, inspect, accept and reject proposals",
	}
	cmd.AddCommand(
		newProposalCreateCmd(a),
		newProposalListCmd(a),
		newProposalShowCmd(a),
		newProposalAcceptCmd(a),
		newProposalRejectCmd(a),
	)
	return cmd
}

func newProposalCreateCmd(a *app) *cobra.Command {
	var (
		title    string
		notes    string
		openDate string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new proposal in preparation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			open, err := parseOptionalDate(openDate)
			if err != nil {
				return err
			}
			p, err := a.svc.CreateProposal(cmd.Context(), title, notes, open)
			if err != nil {
				return err
			}
			return out(cmd, p)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Proposal title (required)")
	cmd.Flags().StringVar(&notes, "notes", "", "Free text notes")
	cmd.Flags().StringVar(&openDate, "open-date", "", "Date the proposal comes into force (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newProposalListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ps, err := a.svc.Proposals(cmd.Context())
			if err != nil {
				return err
			}
			if status == "" {
				return out(cmd, ps)
			}
			want, err := parseStatus(status)
			if err != nil {
				return err
			}
			filtered := make([]domain.Proposal, 0, len(ps))
			for _, p := range ps {
				if p.Status == want {
					filtered = append(filtered, p)
				}
			}
			return out(cmd, filtered)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only proposals with this status (in_preparation, accepted, rejected)")
	return cmd
}

type proposalView struct {
	Proposal domain.Proposal     `json:"proposal"`
	Entries  []domain.Membership `json:"entries"`
}

func newProposalShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a proposal and its ledger records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProposalID(args[0])
			if err != nil {
				return err
			}
			p, err := a.svc.Proposal(cmd.Context(), id)
			if err != nil {
				return err
			}
			entries, err := a.svc.ProposalEntries(cmd.Context(), id)
			if err != nil {
				return err
			}
			return out(cmd, proposalView{Proposal: p, Entries: entries})
		},
	}
}

func newProposalAcceptCmd(a *app) *cobra.Command {
	var (
		openDate string
		yes      bool
	)
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept a proposal, stamping its restrictions with the open date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProposalID(args[0])
			if err != nil {
				return err
			}
			open, err := parseOptionalDate(openDate)
			if err != nil {
				return err
			}
			p, err := a.svc.AcceptProposal(cmd.Context(), id, open, yes)
			if err != nil {
				return err
			}
			return out(cmd, p)
		},
	}
	cmd.Flags().StringVar(&openDate, "open-date", "", "Open date override (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the acceptance")
	return cmd
}

func newProposalRejectCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a proposal, clearing any dates it staged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProposalID(args[0])
			if err != nil {
				return err
			}
			p, err := a.svc.RejectProposal(cmd.Context(), id, yes)
			if err != nil {
				return err
			}
			return out(cmd, p)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the rejection")
	return cmd
}
