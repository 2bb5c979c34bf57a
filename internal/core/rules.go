package core

import (
	"context"
	"fmt"

	"tomscore/pkg/domain"
)

// SingleOpenVersionRule blocks a commit leaving two undated-close versions
// of one RestrictionID in a layer.
type SingleOpenVersionRule struct{}

// Name implements domain.Rule.
func (SingleOpenVersionRule) Name() string { return "single_open_version" }

// Evaluate implements domain.Rule.
func (r SingleOpenVersionRule) Evaluate(ctx context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	var res domain.Result
	seen := make(map[domain.LayerID]bool)
	for _, l := range view.RestrictionLayers() {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		rows, err := view.Restrictions(ctx, l.ID)
		if err != nil {
			return domain.Result{}, err
		}
		open := make(map[string]int)
		for _, row := range rows {
			if row.IsOpen() {
				open[row.RestrictionID]++
			}
		}
		for _, row := range rows {
			if n := open[row.RestrictionID]; n > 1 {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("restriction %s has %d open versions", row.RestrictionID, n),
					Store:    l.Name,
					EntityID: row.RestrictionID,
				})
				open[row.RestrictionID] = 0
			}
		}
	}
	return res, nil
}

// UniqueMembershipRule blocks duplicate ledger records and warns about
// records pointing at an unregistered layer.
type UniqueMembershipRule struct{}

// Name implements domain.Rule.
func (UniqueMembershipRule) Name() string { return "unique_membership" }

// Evaluate implements domain.Rule.
func (r UniqueMembershipRule) Evaluate(ctx context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	rows, err := view.Memberships(ctx)
	if err != nil {
		return domain.Result{}, err
	}
	known := make(map[domain.LayerID]bool)
	for _, l := range view.RestrictionLayers() {
		known[l.ID] = true
	}
	type key struct {
		p domain.ProposalID
		r string
		l domain.LayerID
		a domain.MembershipAction
	}
	seen := make(map[key]bool, len(rows))
	var res domain.Result
	for _, m := range rows {
		k := key{m.ProposalID, m.RestrictionID, m.LayerID, m.Action}
		if seen[k] {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("proposal %d records %s for %s twice", m.ProposalID, m.Action, m.RestrictionID),
				Store:    StoreMemberships,
				EntityID: m.RestrictionID,
			})
		}
		seen[k] = true
		if !known[m.LayerID] {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("layer %d is not registered", m.LayerID),
				Store:    StoreMemberships,
				EntityID: m.RestrictionID,
			})
		}
	}
	return res, nil
}

// DefaultRulesEngine returns an engine with the built-in rules.
func DefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(SingleOpenVersionRule{})
	engine.Register(UniqueMembershipRule{})
	return engine
}

// rulesHook adapts a rules engine to a pre-commit hook. report receives the
// full result, warnings included.
func rulesHook(engine *domain.RulesEngine, view domain.RuleView, report func(domain.Result)) PreCommitHook {
	return func(ctx context.Context, changes []domain.Change) error {
		res, err := engine.Evaluate(ctx, view, changes)
		if err != nil {
			return err
		}
		if report != nil {
			report(res)
		}
		if res.HasBlocking() {
			return domain.RuleViolationError{Result: res}
		}
		return nil
	}
}
