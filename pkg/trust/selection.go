package trust

import (
	"sort"
	"time"
)

// Candidate is one server resolved against the trust registry, ready for
// auto-select evaluation or interactive display.
type Candidate struct {
	ServerID string
	Tier     Tier
}

// SelectionOption enumerates the interactive choices spec.md §4.J offers
// alongside picking a displayed candidate by number: approve everything
// shown, show more of the candidate list, refine the search with a hint,
// deny outright, or add a server by URL.
type SelectionOption string

const (
	OptionApproveAll SelectionOption = "approve-all"
	OptionMore       SelectionOption = "more"
	OptionRefine     SelectionOption = "refine"
	OptionDeny       SelectionOption = "deny"
	OptionAddURL     SelectionOption = "add-url"
)

// SelectionOutcome is the tagged-union result of Propose: either a server
// was auto-selected, or a set of candidates is ready for interactive
// display (optionally gated behind approval because an Unverified server
// is in the running).
type SelectionOutcome struct {
	AutoSelected bool
	ServerID     string
	Tier         Tier

	Displayed     []Candidate
	Truncated     bool
	NeedsApproval bool
}

// Propose runs the interactive-selection flow of spec.md §4.J: filter to
// trusted candidates where any exist, auto-select if policy allows it,
// otherwise prepare the top-N candidates for display.
func (r *Registry) Propose(candidateIDs []string, policy Policy) SelectionOutcome {
	resolved := make([]Candidate, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		resolved = append(resolved, Candidate{ServerID: id, Tier: r.ResolveTier(id, 0)})
	}
	sort.SliceStable(resolved, func(i, j int) bool { return resolved[i].Tier > resolved[j].Tier })

	pool := make([]Candidate, 0, len(resolved))
	for _, c := range resolved {
		if c.Tier > Unverified {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = resolved
	}

	for _, c := range pool {
		if policy.ShouldAutoSelect(c.Tier) {
			return SelectionOutcome{AutoSelected: true, ServerID: c.ServerID, Tier: c.Tier}
		}
	}

	needsApproval := false
	for _, c := range pool {
		if policy.RequiresApproval(c.Tier) {
			needsApproval = true
			break
		}
	}

	max := policy.maxDisplay()
	displayed := pool
	truncated := false
	if len(displayed) > max {
		displayed = displayed[:max]
		truncated = true
	}

	return SelectionOutcome{Displayed: displayed, Truncated: truncated, NeedsApproval: needsApproval}
}

// ApproveAll upgrades every displayed candidate in outcome to Approved,
// non-destructively, stamping each with now and consecutive lamport
// heights starting at startLamport. It returns the next free lamport
// height so callers can chain further events.
func (r *Registry) ApproveAll(outcome SelectionOutcome, startLamport uint64, now time.Time) (uint64, error) {
	lamport := startLamport
	for _, c := range outcome.Displayed {
		if err := r.ApproveDomain(c.ServerID, lamport, now); err != nil {
			return lamport, err
		}
		lamport++
	}
	return lamport, nil
}
