package core

import (
	"time"

	"tomscore/pkg/domain"
)

// ProposalContext identifies the proposal an editing operation runs under.
// The zero value is the read-only "no proposal" context.
type ProposalContext struct {
	ProposalID domain.ProposalID
	OpenDate   *time.Time
}

// ReadOnly reports whether edits must be refused.
func (pc ProposalContext) ReadOnly() bool { return pc.ProposalID == domain.NoProposal }

// ForProposal builds the context for p.
func ForProposal(p domain.Proposal) ProposalContext {
	pc := ProposalContext{ProposalID: p.ID}
	if p.OpenDate != nil {
		pc.OpenDate = domain.DayPtr(*p.OpenDate)
	}
	return pc
}
