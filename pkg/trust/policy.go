package trust

// Policy governs how the Resolution Strategy Stack picks among candidate
// servers that all expose the same tool, per spec.md §4.J.
type Policy struct {
	RequireApprovalForUnknown bool
	AutoSelectOfficial        bool
	AutoSelectApproved        bool
	MinAutoSelectTrust        Tier
	PromptForSelection        bool
	MaxSelectionDisplay       int
}

// DefaultPolicy matches the conservative defaults implied by spec.md §4.J:
// only Official and Approved servers auto-select, unknown servers require
// approval, and the candidate list is capped to a readable size.
func DefaultPolicy() Policy {
	return Policy{
		RequireApprovalForUnknown: true,
		AutoSelectOfficial:        true,
		AutoSelectApproved:        true,
		MinAutoSelectTrust:        Verified,
		PromptForSelection:        true,
		MaxSelectionDisplay:       5,
	}
}

func (p Policy) maxDisplay() int {
	if p.MaxSelectionDisplay <= 0 {
		return 5
	}
	return p.MaxSelectionDisplay
}

// ShouldAutoSelect reports whether a server at tier may be picked without
// prompting a human, per spec.md §4.J: true for Official/Approved when
// their respective auto flags are set, true for Verified (or above) when
// MinAutoSelectTrust permits it, false otherwise.
func (p Policy) ShouldAutoSelect(tier Tier) bool {
	switch tier {
	case Official:
		return p.AutoSelectOfficial
	case Approved:
		return p.AutoSelectApproved
	case Verified:
		return p.MinAutoSelectTrust <= Verified
	default:
		return false
	}
}

// RequiresApproval reports whether a server at tier must go through the
// interactive/approval flow before it can be used. Only Unverified servers
// require approval, and only when the policy asks for it.
func (p Policy) RequiresApproval(tier Tier) bool {
	return tier == Unverified && p.RequireApprovalForUnknown
}
