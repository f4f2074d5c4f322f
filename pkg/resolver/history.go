package resolver

import (
	"sync"
	"time"
)

// History is the per-capability attempt log: a durable-shaped (but, at this
// layer, in-memory) record of every ResolutionAttempt, enforcing the
// strictly-increasing attempt_count invariant and the max_retry_attempts
// cap across all methods for one capability id.
type History struct {
	mu              sync.Mutex
	byCapability    map[string][]ResolutionAttempt
	maxRetryAttempts int
}

// NewHistory creates an attempt log capped at maxRetryAttempts attempts per
// capability (across all methods combined).
func NewHistory(maxRetryAttempts int) *History {
	if maxRetryAttempts <= 0 {
		maxRetryAttempts = 10
	}
	return &History{byCapability: make(map[string][]ResolutionAttempt), maxRetryAttempts: maxRetryAttempts}
}

// Count returns how many attempts have been recorded for capabilityID.
func (h *History) Count(capabilityID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byCapability[capabilityID])
}

// Exhausted reports whether capabilityID has hit max_retry_attempts.
func (h *History) Exhausted(capabilityID string) bool {
	return h.Count(capabilityID) >= h.maxRetryAttempts
}

// Record appends a ResolutionAttempt, stamping attempt_count as
// len(history)+1 so the sequence is strictly increasing per capability.
func (h *History) Record(capabilityID string, attemptedAt time.Time, method Method, success bool, errMsg string, nextRetryAt *time.Time) ResolutionAttempt {
	h.mu.Lock()
	defer h.mu.Unlock()

	attempt := ResolutionAttempt{
		CapabilityID: capabilityID,
		AttemptedAt:  attemptedAt,
		AttemptCount: len(h.byCapability[capabilityID]) + 1,
		Method:       method,
		Success:      success,
		Error:        errMsg,
		NextRetryAt:  nextRetryAt,
	}
	h.byCapability[capabilityID] = append(h.byCapability[capabilityID], attempt)
	return attempt
}

// Clear removes capabilityID's history, per spec.md §4.H.5 ("on success,
// clear the resolution history for that capability").
func (h *History) Clear(capabilityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byCapability, capabilityID)
}

// Attempts returns a copy of capabilityID's recorded attempts, oldest first.
func (h *History) Attempts(capabilityID string) []ResolutionAttempt {
	h.mu.Lock()
	defer h.mu.Unlock()
	src := h.byCapability[capabilityID]
	out := make([]ResolutionAttempt, len(src))
	copy(out, src)
	return out
}

// LastAttempt returns the most recent attempt for capabilityID, if any.
func (h *History) LastAttempt(capabilityID string) (ResolutionAttempt, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	src := h.byCapability[capabilityID]
	if len(src) == 0 {
		return ResolutionAttempt{}, false
	}
	return src[len(src)-1], true
}
