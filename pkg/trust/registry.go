// Package trust implements the Server Trust Registry: an event-sourced
// materialized view of trust tiers assigned to MCP servers, plus the
// selection policy the Resolution Strategy Stack uses to pick among
// multiple servers that expose the same tool.
package trust

import (
	"fmt"
	"sync"
	"time"
)

// Tier ranks how much a server is trusted. Order matters: higher tiers
// compare greater than lower ones.
type Tier int

const (
	Unverified Tier = iota
	Verified
	Approved
	Official
)

func (t Tier) String() string {
	switch t {
	case Unverified:
		return "UNVERIFIED"
	case Verified:
		return "VERIFIED"
	case Approved:
		return "APPROVED"
	case Official:
		return "OFFICIAL"
	default:
		return "UNKNOWN"
	}
}

// ParseTier converts a tier name back into a Tier, defaulting to Unverified
// for anything unrecognized — fail closed on trust, never fail open.
func ParseTier(s string) Tier {
	switch s {
	case "VERIFIED":
		return Verified
	case "APPROVED":
		return Approved
	case "OFFICIAL":
		return Official
	default:
		return Unverified
	}
}

// EventType enumerates the trust lifecycle events applied to the registry.
type EventType string

const (
	EventTierSet     EventType = "TIER_SET"
	EventTierRevoked EventType = "TIER_REVOKED"
)

// Event is one entry in the trust registry's append-only event log.
type Event struct {
	EventType EventType `json:"event_type"`
	ServerID  string    `json:"server_id"`
	Tier      Tier      `json:"tier"`
	Lamport   uint64    `json:"lamport_height"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Registry is an event-sourced, materialized view of server trust tiers.
// State is derived exclusively by replaying Events — never set directly —
// so that ResolveTier at any Lamport height is reproducible.
type Registry struct {
	mu     sync.RWMutex
	events []Event
	tiers  map[string]Tier
}

// NewRegistry creates an empty trust registry. Servers not yet seen resolve
// to Unverified, never to an error — absence of trust information is itself
// the lowest trust tier, not a failure mode.
func NewRegistry() *Registry {
	return &Registry{tiers: make(map[string]Tier)}
}

// Apply processes a trust event, updating the materialized view.
func (r *Registry) Apply(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.EventType {
	case EventTierSet:
		r.tiers[event.ServerID] = event.Tier
	case EventTierRevoked:
		r.tiers[event.ServerID] = Unverified
	default:
		return fmt.Errorf("unknown trust event type: %s", event.EventType)
	}

	r.events = append(r.events, event)
	return nil
}

// ResolveTier returns a server's current trust tier. If lamportHeight is 0,
// the current materialized state is used; otherwise the events are replayed
// up to that height for point-in-time resolution.
func (r *Registry) ResolveTier(serverID string, lamportHeight uint64) Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if lamportHeight == 0 {
		return r.tiers[serverID]
	}

	tier := Unverified
	for _, ev := range r.events {
		if ev.ServerID != serverID || ev.Lamport > lamportHeight {
			continue
		}
		switch ev.EventType {
		case EventTierSet:
			tier = ev.Tier
		case EventTierRevoked:
			tier = Unverified
		}
	}
	return tier
}

// EventCount returns the number of events processed, for audit/diagnostics.
func (r *Registry) EventCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// SelectionPolicy governs automatic server selection among candidates that
// all expose the same tool.
type SelectionPolicy struct {
	// MinTier rejects any candidate below this tier outright.
	MinTier Tier
	// AutoSelectThreshold is the tier at or above which selection proceeds
	// without prompting a human; below it, AutoSelect returns ErrNeedsReview.
	AutoSelectThreshold Tier
}

// ErrNeedsReview signals that no candidate met AutoSelectThreshold and an
// interactive (human) selection is required instead.
var ErrNeedsReview = fmt.Errorf("no candidate server meets the auto-select trust threshold")

// AutoSelect picks the highest-trust candidate server for a tool. Ties are
// broken by input order (first candidate wins), matching a stable,
// deterministic selection instead of arbitrary map iteration order.
func (r *Registry) AutoSelect(candidates []string, policy SelectionPolicy) (string, Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	bestTier := Tier(-1)
	for _, c := range candidates {
		tier := r.tiers[c]
		if tier < policy.MinTier {
			continue
		}
		if tier > bestTier {
			best = c
			bestTier = tier
		}
	}

	if best == "" {
		return "", Unverified, fmt.Errorf("no candidate meets minimum trust tier %s", policy.MinTier)
	}
	if bestTier < policy.AutoSelectThreshold {
		return best, bestTier, ErrNeedsReview
	}
	return best, bestTier, nil
}

// PendingAddition represents a server a user is in the process of adding
// interactively (the "add-URL" flow): it starts Unverified until the user
// confirms it, at which point a TIER_SET event promotes it to Verified.
type PendingAddition struct {
	ServerID string
	URL      string
}

// Confirm promotes a pending addition to Verified. This is the only path by
// which a brand-new server can earn trust above Unverified without an
// operator explicitly setting a higher tier out of band.
func (r *Registry) Confirm(p PendingAddition, lamport uint64) error {
	return r.Apply(Event{EventType: EventTierSet, ServerID: p.ServerID, Tier: Verified, Lamport: lamport})
}

// ApproveDomain upgrades a server to Approved, per spec.md §4.J's "approving
// a domain upgrades its tier to Approved and records a timestamp". Like
// every other transition this is append-only: it never deletes history, it
// only appends a new TIER_SET event stamped with now.
func (r *Registry) ApproveDomain(serverID string, lamport uint64, now time.Time) error {
	return r.Apply(Event{EventType: EventTierSet, ServerID: serverID, Tier: Approved, Lamport: lamport, Timestamp: now})
}

// LastUpdated returns the timestamp of the most recent event recorded for
// serverID, or the zero time if none has a timestamp set.
func (r *Registry) LastUpdated(serverID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last time.Time
	for _, ev := range r.events {
		if ev.ServerID == serverID && ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	return last
}
