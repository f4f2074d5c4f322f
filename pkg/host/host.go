package host

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ccos-run/ccos/pkg/budget"
	"github.com/ccos-run/ccos/pkg/canonicalize"
	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/chain"
	"github.com/ccos-run/ccos/pkg/manifest"
	"github.com/ccos-run/ccos/pkg/resolver"
	"github.com/ccos-run/ccos/pkg/security"
)

// ContextSnapshot is the keyed map exposed to a capability call when
// exposure policy permits it, per spec.md §4.I step 5.
type ContextSnapshot struct {
	PlanID        string                 `json:"plan_id"`
	PrimaryIntent string                 `json:"primary_intent"`
	IntentIDs     []string               `json:"intent_ids"`
	Step          string                 `json:"step"`
	InputsHash    string                 `json:"inputs_hash"`
	StepContext   map[string]interface{} `json:"step_context"`
	Flattened     map[string]interface{} `json:"flattened"`
}

// HostCall is the package handed to an Orchestrator, per spec.md §4.I step 7.
type HostCall struct {
	CapabilityID    string
	Args            map[string]interface{}
	SecurityContext *security.Context
	CausalContext   *ContextSnapshot
	Metadata        map[string]interface{} // context-map entries + execution hints (retry/timeout/fallback)
}

// Orchestrator dispatches a HostCall to wherever the evaluator's broader
// execution fabric lives. A nil Orchestrator makes the Host invoke the
// marketplace/executor path directly for every call.
type Orchestrator interface {
	Dispatch(ctx context.Context, call HostCall) (interface{}, error)
}

// CapabilityExecutor actually runs a capability's provider (MCP call, HTTP
// call, sandboxed WASI module, local function) and returns its raw result.
type CapabilityExecutor interface {
	Execute(ctx context.Context, m *manifest.CapabilityManifest, args map[string]interface{}) (interface{}, error)
}

// ManifestReader is the read surface the Host needs from the Marketplace.
type ManifestReader interface {
	Get(id string) (*manifest.CapabilityManifest, bool)
}

// Host is the Runtime Host: the single place that composes budget
// enforcement, security validation, chain recording, and capability
// dispatch into one per-call protocol.
type Host struct {
	Budget       *budget.BudgetContext
	Security     *security.Context
	Chain        *chain.Chain
	Marketplace  ManifestReader
	Orchestrator Orchestrator // optional
	Executor     CapabilityExecutor // used when Orchestrator is nil

	Plan *HostPlanContext

	ExecutionMode security.ExecutionMode // defaults to ModeFull

	// BudgetStore, when set, persists the BudgetContext snapshot after every
	// call so a restarted Host resumes accounting instead of re-granting a
	// fresh budget to an in-flight run. Nil disables persistence.
	BudgetStore budget.Store

	// Telemetry emits a span plus RED (rate/errors/duration) metrics for
	// every ExecuteCapability call. Never nil after New; a no-op unless the
	// embedding process registers a real OpenTelemetry SDK.
	Telemetry *Telemetry
}

// New creates a Host wired to its collaborators. plan may be nil if the
// caller never needs context-snapshot exposure.
func New(b *budget.BudgetContext, sec *security.Context, c *chain.Chain, mp ManifestReader, plan *HostPlanContext) *Host {
	return &Host{Budget: b, Security: sec, Chain: c, Marketplace: mp, Plan: plan, ExecutionMode: security.ModeFull, Telemetry: NewTelemetry()}
}

// mockValueFor synthesizes the dry-run return value table of spec.md §4.I
// step 6 / §4.H step 6: lists -> empty vector, creates -> simulated-success
// object, deletes -> true, payments -> simulated transaction, default -> nil.
func mockValueFor(capabilityID string) interface{} {
	lower := strings.ToLower(capabilityID)
	switch {
	case strings.Contains(lower, "list"):
		return []interface{}{}
	case strings.Contains(lower, "create"):
		return map[string]interface{}{"success": true, "id": "simulated-id"}
	case strings.Contains(lower, "delete"):
		return true
	case strings.Contains(lower, "payment") || strings.Contains(lower, "charge") || strings.Contains(lower, "billing"):
		return map[string]interface{}{"transaction_id": "simulated-id", "status": "simulated"}
	default:
		return nil
	}
}

// normalizeArgs builds a single args map per the manifest's declared input
// schema's required fields, preserving optional fields unchanged, per
// spec.md §4.I step 4. A manifest with no declared input type is passed
// through unmodified.
func normalizeArgs(m *manifest.CapabilityManifest, args map[string]interface{}) map[string]interface{} {
	if m.InputType == nil || m.InputType.Kind != manifest.TypeKindMap {
		return args
	}
	out := make(map[string]interface{}, len(args))
	for _, entry := range m.InputType.Entries {
		if v, ok := args[entry.Key]; ok {
			out[entry.Key] = v
		}
	}
	for k, v := range args {
		if _, already := out[k]; !already {
			out[k] = v
		}
	}
	return out
}

// buildSnapshot computes the context snapshot for a call, subject to
// exposure policy: the global security flag AND (manifest tags permit) AND
// step-override permits, optionally filtered by an explicit key list.
func (h *Host) buildSnapshot(capabilityID string, m *manifest.CapabilityManifest, args map[string]interface{}) *ContextSnapshot {
	if h.Plan == nil {
		return nil
	}

	allowed := h.Security != nil && h.Security.IsContextExposureAllowedFor(capabilityID)
	if override, has := h.Plan.exposureOverride(h.Plan.Step); has {
		allowed = override
	}
	if m != nil && m.Metadata != nil && m.Metadata["context_exposure"] == "deny" {
		allowed = false
	}
	if !allowed {
		return nil
	}

	planID, primaryIntent, step, intentIDs, stepContext, _ := h.Plan.snapshot()

	var allowKeys map[string]bool
	if m != nil && m.Metadata != nil {
		if list, ok := m.Metadata["context_exposure_keys"]; ok && list != "" {
			allowKeys = sanitizeKeyList(strings.Split(list, ","))
		}
	}
	if allowKeys != nil {
		filtered := make(map[string]interface{}, len(stepContext))
		for k, v := range stepContext {
			if allowKeys[k] {
				filtered[k] = v
			}
		}
		stepContext = filtered
	}

	flattened := make(map[string]interface{})
	flattenedStepContextKeys("", stepContext, flattened)

	argsHash, _ := canonicalize.CanonicalHash(args)

	return &ContextSnapshot{
		PlanID:        planID,
		PrimaryIntent: primaryIntent,
		IntentIDs:     intentIDs,
		Step:          step,
		InputsHash:    argsHash,
		StepContext:   stepContext,
		Flattened:     flattened,
	}
}

// isHighRisk reports whether capabilityID's inferred security level (by the
// same name-pattern table the resolver uses for risk assessment) is High or
// Critical, gating the dry-run mock-value path.
func isHighRisk(capabilityID string) bool {
	assessment := resolver.AssessRisk(capabilityID, false, false)
	return assessment.Level == budget.RiskHigh || assessment.Level == budget.RiskCritical
}

// ExecuteCapability runs the full nine-step per-call protocol of spec.md
// §4.I for one capability invocation.
func (h *Host) ExecuteCapability(ctx context.Context, capabilityID string, args map[string]interface{}) (result interface{}, err error) {
	start := time.Now()
	ctx, endSpan := h.Telemetry.startSpan(ctx, capabilityID)
	defer func() { endSpan(err, float64(time.Since(start).Milliseconds())) }()

	// Step 1: pre-call budget check.
	if h.Budget != nil {
		result := h.Budget.Reserve(budget.DimensionCalls, 1)
		switch result.Outcome {
		case budget.OutcomeDenied:
			if h.Chain != nil {
				h.Chain.Append(chain.Action{Kind: chain.KindBudgetExhausted, CapabilityName: capabilityID, Metadata: map[string]string{"reason": result.Reason}})
			}
			return nil, ccoserr.New(ccoserr.KindBudgetExhausted, fmt.Sprintf("host: %s: %s", capabilityID, result.Reason))
		case budget.OutcomeApprovalRequired:
			if h.Chain != nil {
				h.Chain.Append(chain.Action{Kind: chain.KindBudgetWarning, CapabilityName: capabilityID, Metadata: map[string]string{"reason": result.Reason, "approval_required": "true"}})
			}
			return nil, ccoserr.New(ccoserr.KindApproval, fmt.Sprintf("host: %s: %s", capabilityID, result.Reason))
		case budget.OutcomeWarned:
			if h.Chain != nil {
				h.Chain.Append(chain.Action{Kind: chain.KindBudgetWarning, CapabilityName: capabilityID, Metadata: map[string]string{"reason": result.Reason}})
			}
		}
	}

	// Step 2: record the pending CapabilityCall action.
	argsHash, _ := canonicalize.CanonicalHash(args)
	var parentID, planID, intentID string
	if h.Plan != nil {
		planID, intentID, _, _, _, _ = h.Plan.snapshot()
	}
	var pendingID string
	if h.Chain != nil {
		id, err := h.Chain.Append(chain.Action{
			Kind:           chain.KindCapabilityCall,
			PlanID:         planID,
			IntentID:       intentID,
			ParentActionID: parentID,
			CapabilityName: capabilityID,
			ArgsHash:       argsHash,
		})
		if err != nil {
			return nil, ccoserr.Wrap(ccoserr.KindInternal, "host: recording pending action", err)
		}
		pendingID = id
	}

	// Step 3: security validation.
	var m *manifest.CapabilityManifest
	if h.Marketplace != nil {
		m, _ = h.Marketplace.Get(capabilityID)
	}
	if h.Security != nil {
		if !h.Security.IsCapabilityAllowed(capabilityID) {
			err := ccoserr.New(ccoserr.KindSecurityViolation, fmt.Sprintf("host: capability %q is not allowed", capabilityID))
			h.recordFailure(pendingID, capabilityID, err)
			return nil, err
		}
		if m != nil && len(m.Effects) > 0 {
			if err := h.Security.EnsureEffectsAllowed(capabilityID, m.Effects); err != nil {
				h.recordFailure(pendingID, capabilityID, err)
				return nil, err
			}
		}
	}

	// Step 4: normalize args against the declared input schema, then
	// validate against the manifest's raw JSON schema when one was
	// supplied at registration (a stricter check than the required/optional
	// shape normalizeArgs applies, since enum/minimum/pattern constraints
	// don't survive conversion into a TypeExpr).
	normalized := args
	if m != nil {
		normalized = normalizeArgs(m, args)
		if len(m.RawInputSchema) > 0 {
			if err := manifest.ValidateAgainstJSONSchema(m.RawInputSchema, normalized); err != nil {
				wrapped := ccoserr.Wrap(ccoserr.KindSchema, fmt.Sprintf("host: %s: argument schema validation failed", capabilityID), err)
				h.recordFailure(pendingID, capabilityID, wrapped)
				return nil, wrapped
			}
		}
	}

	// Step 5: compute the context snapshot.
	snapshot := h.buildSnapshot(capabilityID, m, normalized)

	// Step 6: dry-run gate.
	if h.ExecutionMode == security.ModeDryRun && isHighRisk(capabilityID) {
		value := mockValueFor(capabilityID)
		if h.Chain != nil {
			h.Chain.RecordResult(pendingID, capabilityID, chain.Result{
				Success:  true,
				Value:    value,
				Metadata: map[string]string{"simulated": "true"},
			})
		}
		h.recordConsumption(ctx, capabilityID, start)
		return value, nil
	}

	// Step 7: route to orchestrator or marketplace/executor.
	value, err := h.dispatch(ctx, capabilityID, m, normalized, snapshot)

	// Step 8: record completion.
	if h.Chain != nil {
		if err != nil {
			h.Chain.RecordResult(pendingID, capabilityID, chain.Result{
				Success:  false,
				Metadata: map[string]string{"error": err.Error(), "category": string(ccoserr.KindOf(err).Category())},
			})
		} else {
			h.Chain.RecordResult(pendingID, capabilityID, chain.Result{Success: true, Value: value})
		}
	}
	if err != nil {
		return nil, err
	}

	// Step 9: record step duration and budget consumption.
	h.recordConsumption(ctx, capabilityID, start)
	return value, nil
}

func (h *Host) recordFailure(pendingID, capabilityID string, err error) {
	if h.Chain == nil {
		return
	}
	h.Chain.RecordResult(pendingID, capabilityID, chain.Result{
		Success:  false,
		Metadata: map[string]string{"error": err.Error(), "category": string(ccoserr.KindOf(err).Category())},
	})
}

func (h *Host) recordConsumption(ctx context.Context, capabilityID string, start time.Time) {
	durationMs := time.Since(start).Milliseconds()
	if h.Budget != nil {
		h.Budget.Reserve(budget.DimensionDuration, durationMs)
		if h.BudgetStore != nil {
			h.Budget.Persist(ctx, h.BudgetStore)
		}
	}
	if h.Chain != nil {
		h.Chain.Append(chain.Action{
			Kind:           chain.KindBudgetConsumptionRecorded,
			CapabilityName: capabilityID,
			Metadata:       map[string]string{"duration_ms": fmt.Sprintf("%d", durationMs)},
		})
	}
}

func (h *Host) dispatch(ctx context.Context, capabilityID string, m *manifest.CapabilityManifest, args map[string]interface{}, snapshot *ContextSnapshot) (interface{}, error) {
	metadata := make(map[string]interface{})
	if h.Plan != nil {
		_, _, _, _, _, hints := h.Plan.snapshot()
		for k, v := range hints {
			metadata[k] = v
		}
	}

	if h.Orchestrator != nil {
		call := HostCall{
			CapabilityID:    capabilityID,
			Args:            args,
			SecurityContext: h.Security,
			CausalContext:   snapshot,
			Metadata:        metadata,
		}
		return h.Orchestrator.Dispatch(ctx, call)
	}

	if m == nil {
		return nil, ccoserr.New(ccoserr.KindMissing, fmt.Sprintf("host: capability %q is not registered", capabilityID))
	}
	if h.Executor == nil {
		return nil, ccoserr.New(ccoserr.KindInternal, fmt.Sprintf("host: no executor configured to run capability %q", capabilityID))
	}
	return h.Executor.Execute(ctx, m, args)
}
