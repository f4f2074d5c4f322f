package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ccos-run/ccos/pkg/budget"
	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/manifest"
)

// ErrFailed signals a capability's resolution history is exhausted or an
// ApprovalRequest was rejected — the caller should stop retrying.
var ErrFailed = errors.New("resolver: capability resolution failed")

// ErrPendingApproval signals the capability is blocked on a human decision;
// callers should not retry until the approval resolves.
var ErrPendingApproval = errors.New("resolver: capability awaiting human approval")

// ErrBackoff signals the next attempt isn't due yet; callers should retry
// after the wrapped NotBefore time.
type ErrBackoff struct{ NotBefore time.Time }

func (e *ErrBackoff) Error() string {
	return fmt.Sprintf("resolver: next attempt not due until %s", e.NotBefore.Format(time.RFC3339))
}

// MethodHandler attempts to resolve a capability via one discovery Method.
// It returns ccoserr-wrapped errors; a method that simply has nothing to
// offer should return an error whose Kind is ccoserr.KindMissing so the loop
// treats it as "try the next method" rather than a hard stop.
type MethodHandler interface {
	Attempt(ctx context.Context, capabilityID string, method Method) (*manifest.CapabilityManifest, error)
}

// Registrar is the seam the resolver registers newly-resolved manifests
// into — satisfied by *marketplace.Marketplace.
type Registrar interface {
	Has(id string) bool
	Register(m *manifest.CapabilityManifest) error
}

// Config tunes the resolver's retry and approval behavior.
type Config struct {
	MaxRetryAttempts  int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	ApprovalTTL       time.Duration // default 24h
	ForceApproval     bool          // policy override: always require approval
	ForceNoApproval   bool          // policy override: never require approval
}

func (c Config) withDefaults() Config {
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = 10
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Hour
	}
	if c.ApprovalTTL <= 0 {
		c.ApprovalTTL = 24 * time.Hour
	}
	return c
}

// Resolver drives the Missing-Capability Resolver + Continuous Loop: risk
// assessment, method ordering, capped backoff, and the human-approval gate,
// per spec.md §4.H.
type Resolver struct {
	Registry Registrar
	Queue    *ApprovalQueue
	History  *History
	Methods  map[Method]MethodHandler
	Clock    func() time.Time

	// Autonomy, when set, additionally gates automated (non-Manual)
	// resolution attempts on a configured per-run autonomy budget, per
	// spec.md's open question on how the name-pattern risk tier and a
	// deployment's own policy interact: here the name-pattern tier decides
	// the default requires_human_approval and the method order, while
	// Autonomy can only ever tighten that — forcing approval for a tier
	// that would otherwise run unattended — never loosen it for a tier the
	// name-pattern table already requires approval for.
	Autonomy      *budget.RiskEnforcer
	AutonomyRunID string

	cfg Config
}

// New creates a Resolver. methods maps each Method this deployment actually
// supports to its handler; a Method absent from the map is always skipped.
func New(registry Registrar, methods map[Method]MethodHandler, cfg Config) *Resolver {
	cfg = cfg.withDefaults()
	return &Resolver{
		Registry: registry,
		Queue:    NewApprovalQueue(),
		History:  NewHistory(cfg.MaxRetryAttempts),
		Methods:  methods,
		Clock:    time.Now,
		cfg:      cfg,
	}
}

// Resolve drives one step of the continuous loop for capabilityID: assess
// risk, gate on human approval if required, pick the next method due for an
// attempt, run it, and record the outcome. Called repeatedly (by a single
// logical worker, per spec.md's concurrency note) until it returns a
// manifest, ErrFailed, or ErrPendingApproval.
func (r *Resolver) Resolve(ctx context.Context, capabilityID string) (*manifest.CapabilityManifest, error) {
	if r.Registry != nil && r.Registry.Has(capabilityID) {
		return nil, ccoserr.New(ccoserr.KindInternal, fmt.Sprintf("resolver: %q is already registered", capabilityID))
	}
	if r.History.Exhausted(capabilityID) {
		return nil, fmt.Errorf("%w: %s exhausted max retry attempts", ErrFailed, capabilityID)
	}

	risk := AssessRisk(capabilityID, r.cfg.ForceApproval, r.cfg.ForceNoApproval)

	if risk.RequiresHumanApproval || r.autonomyDenies(risk) {
		return r.resolveWithApproval(ctx, capabilityID, risk)
	}
	return r.resolveAutomated(ctx, capabilityID, risk)
}

// autonomyDenies reports whether a configured autonomy budget forbids an
// automated attempt at this risk tier, even though the name-pattern table
// alone would have allowed one.
func (r *Resolver) autonomyDenies(risk RiskAssessment) bool {
	if r.Autonomy == nil {
		return false
	}
	return !r.Autonomy.IsAutonomousAllowed(r.AutonomyRunID, risk.Level)
}

func (r *Resolver) resolveWithApproval(ctx context.Context, capabilityID string, risk RiskAssessment) (*manifest.CapabilityManifest, error) {
	pending, found := r.Queue.PendingForCapability(capabilityID)
	if !found {
		r.Queue.Enqueue(CategoryEffectApproval, capabilityID, nil,
			fmt.Sprintf("capability %q requires approval: %v", capabilityID, risk.Reasons),
			"", risk, r.cfg.ApprovalTTL, map[string]interface{}{"risk_level": string(risk.Level)})
		return nil, ErrPendingApproval
	}

	switch pending.Status {
	case ApprovalPending:
		return nil, ErrPendingApproval
	case ApprovalRejected:
		return nil, fmt.Errorf("%w: %s rejected (%s)", ErrFailed, capabilityID, pending.RejectReason)
	case ApprovalExpired:
		return nil, fmt.Errorf("%w: %s approval request expired", ErrFailed, capabilityID)
	case ApprovalApproved:
		if risk.RequiresHumanApproval {
			// Only Manual is available for High/Critical risk, per spec.md §4.H.2.
			return r.attempt(ctx, capabilityID, MethodManual)
		}
		// The name-pattern tier alone would have allowed automated methods;
		// approval was only required because a configured autonomy budget
		// denied it. Now that a human has approved it, the tier's normal
		// method order applies rather than forcing Manual.
		return r.resolveAutomated(ctx, capabilityID, risk)
	default:
		return nil, ErrPendingApproval
	}
}

func (r *Resolver) resolveAutomated(ctx context.Context, capabilityID string, risk RiskAssessment) (*manifest.CapabilityManifest, error) {
	order := MethodOrderFor(risk.Level)
	attempts := r.History.Attempts(capabilityID)

	tried := make(map[Method]bool, len(attempts))
	for _, a := range attempts {
		tried[a.Method] = true
	}

	if last, ok := r.History.LastAttempt(capabilityID); ok && last.NextRetryAt != nil {
		now := r.now()
		if now.Before(*last.NextRetryAt) {
			return nil, &ErrBackoff{NotBefore: *last.NextRetryAt}
		}
	}

	for _, method := range order {
		if tried[method] && method != order[len(order)-1] {
			continue // already attempted this method; move to the next one in order
		}
		handler, ok := r.Methods[method]
		if !ok {
			continue
		}
		return r.attemptVia(ctx, capabilityID, method, handler)
	}
	return nil, fmt.Errorf("%w: %s has no remaining resolution methods", ErrFailed, capabilityID)
}

func (r *Resolver) attempt(ctx context.Context, capabilityID string, method Method) (*manifest.CapabilityManifest, error) {
	handler, ok := r.Methods[method]
	if !ok {
		return nil, ccoserr.New(ccoserr.KindMissing, fmt.Sprintf("resolver: no handler configured for method %s", method))
	}
	return r.attemptVia(ctx, capabilityID, method, handler)
}

func (r *Resolver) attemptVia(ctx context.Context, capabilityID string, method Method, handler MethodHandler) (*manifest.CapabilityManifest, error) {
	now := r.now()
	m, err := handler.Attempt(ctx, capabilityID, method)
	attemptCount := r.History.Count(capabilityID) + 1

	if err == nil {
		r.History.Record(capabilityID, now, method, true, "", nil)
		if r.Registry != nil {
			if regErr := r.Registry.Register(m); regErr != nil {
				return nil, regErr
			}
		}
		r.History.Clear(capabilityID)
		return m, nil
	}

	delay := computeNextRetry(r.cfg.BackoffBase, r.cfg.BackoffMax, attemptCount)
	nextRetry := now.Add(delay)
	r.History.Record(capabilityID, now, method, false, err.Error(), &nextRetry)

	if r.History.Exhausted(capabilityID) {
		return nil, fmt.Errorf("%w: %s exhausted max retry attempts on method %s: %v", ErrFailed, capabilityID, method, err)
	}
	return nil, err
}

func (r *Resolver) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// SweepApprovals expires stale pending approvals, per spec.md §4.H.4's
// periodic sweep. Call this on a timer from the continuous loop's driver.
func (r *Resolver) SweepApprovals() []*ApprovalRequest {
	return r.Queue.CheckTimeouts()
}
