package resolver

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/identity"
	"github.com/google/uuid"
)

// ApprovalQueue is the FIFO human-in-the-loop approval store, mirroring the
// teacher's escalation.Manager: explicit pending/approved/rejected/expired
// states, a clock injected for deterministic tests, and a CheckTimeouts
// sweep rather than lazy expiry-on-read.
type ApprovalQueue struct {
	mu      sync.Mutex
	order   []string // insertion order, for FIFO processing
	items   map[string]*ApprovalRequest
	clock   func() time.Time
}

// NewApprovalQueue creates an empty queue using the wall clock.
func NewApprovalQueue() *ApprovalQueue {
	return &ApprovalQueue{items: make(map[string]*ApprovalRequest), clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (q *ApprovalQueue) WithClock(clock func() time.Time) *ApprovalQueue {
	q.clock = clock
	return q
}

// Enqueue creates and stores a new Pending ApprovalRequest with deadline =
// now + ttl, returning it.
func (q *ApprovalQueue) Enqueue(category ApprovalCategory, capabilityID string, effects []string, description, secretType string, risk RiskAssessment, ttl time.Duration, context map[string]interface{}) *ApprovalRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	req := &ApprovalRequest{
		ID:           uuid.New().String(),
		Category:     category,
		CapabilityID: capabilityID,
		Effects:      effects,
		Description:  description,
		SecretType:   secretType,
		Risk:         risk,
		TTL:          ttl,
		Context:      context,
		Status:       ApprovalPending,
		CreatedAt:    now,
		Deadline:     now.Add(ttl),
	}
	q.items[req.ID] = req
	q.order = append(q.order, req.ID)
	return req
}

// Approve transitions a Pending request to Approved, unless it has already
// expired as of now (in which case it is marked Expired instead and an
// error is returned).
func (q *ApprovalQueue) Approve(id, approver string) (*ApprovalRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.items[id]
	if !ok {
		return nil, ccoserr.New(ccoserr.KindApproval, fmt.Sprintf("resolver: approval request %q not found", id))
	}
	if req.Status != ApprovalPending {
		return nil, ccoserr.New(ccoserr.KindApproval, fmt.Sprintf("resolver: approval request %q is not pending (status=%s)", id, req.Status))
	}
	now := q.clock()
	if req.Expired(now) {
		req.Status = ApprovalExpired
		return req, ccoserr.New(ccoserr.KindApproval, fmt.Sprintf("resolver: approval request %q expired before approval", id))
	}
	req.Status = ApprovalApproved
	req.ApprovedBy = approver
	return req, nil
}

// ApproveAs is Approve, resolving the approver's label from an identity
// token instead of a raw string, so an approval is attributable to a
// verified identity rather than a caller-supplied name that could read
// anything. Preferring Email over Subject matches the audit trail an
// operator actually reads.
func (q *ApprovalQueue) ApproveAs(id string, approver *identity.IdentityToken) (*ApprovalRequest, error) {
	return q.Approve(id, identityLabel(approver))
}

// RejectAs is Reject, resolving the rejecter's label from an identity token.
func (q *ApprovalQueue) RejectAs(id string, rejecter *identity.IdentityToken, reason string) (*ApprovalRequest, error) {
	return q.Reject(id, identityLabel(rejecter), reason)
}

func identityLabel(tok *identity.IdentityToken) string {
	if tok == nil {
		return ""
	}
	if tok.Email != "" {
		return tok.Email
	}
	return tok.Subject
}

// Reject transitions a Pending request to Rejected.
func (q *ApprovalQueue) Reject(id, rejecter, reason string) (*ApprovalRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.items[id]
	if !ok {
		return nil, ccoserr.New(ccoserr.KindApproval, fmt.Sprintf("resolver: approval request %q not found", id))
	}
	if req.Status != ApprovalPending {
		return nil, ccoserr.New(ccoserr.KindApproval, fmt.Sprintf("resolver: approval request %q is not pending (status=%s)", id, req.Status))
	}
	req.Status = ApprovalRejected
	req.RejectedBy = rejecter
	req.RejectReason = reason
	return req, nil
}

// CheckTimeouts expires every Pending request whose deadline has passed,
// returning the ones it expired.
func (q *ApprovalQueue) CheckTimeouts() []*ApprovalRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	var expired []*ApprovalRequest
	for _, id := range q.order {
		req := q.items[id]
		if req.Expired(now) {
			req.Status = ApprovalExpired
			expired = append(expired, req)
		}
	}
	return expired
}

// PendingForCapability returns the oldest still-Pending request for
// capabilityID, if any, in FIFO order.
func (q *ApprovalQueue) PendingForCapability(capabilityID string) (*ApprovalRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		req := q.items[id]
		if req.CapabilityID == capabilityID && req.Status == ApprovalPending {
			return req, true
		}
	}
	return nil, false
}

// Get returns a request by id.
func (q *ApprovalQueue) Get(id string) (*ApprovalRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.items[id]
	return req, ok
}

// PendingFIFO returns every currently-Pending request in FIFO order, for the
// continuous loop's single logical worker to drain.
func (q *ApprovalQueue) PendingFIFO() []*ApprovalRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*ApprovalRequest
	for _, id := range q.order {
		if q.items[id].Status == ApprovalPending {
			out = append(out, q.items[id])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
