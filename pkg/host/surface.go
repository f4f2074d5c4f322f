package host

import (
	"github.com/ccos-run/ccos/pkg/chain"
	"github.com/ccos-run/ccos/pkg/manifest"
)

// SetExecutionContext installs the active HostPlanContext, per spec.md
// §4.I's set_execution_context surface.
func (h *Host) SetExecutionContext(plan *HostPlanContext) { h.Plan = plan }

// ClearExecutionContext detaches the active HostPlanContext.
func (h *Host) ClearExecutionContext() { h.Plan = nil }

// NotifyStepStarted records a StepStarted action for step within the active
// plan, without going through the full capability-call protocol.
func (h *Host) NotifyStepStarted(step string) {
	if h.Plan != nil {
		h.Plan.SetStep(step)
	}
	if h.Chain != nil {
		h.Chain.Append(chain.Action{Kind: chain.KindStepStarted, Metadata: map[string]string{"step": step}})
	}
}

// NotifyStepCompleted records a StepCompleted action.
func (h *Host) NotifyStepCompleted(step string) {
	if h.Chain != nil {
		h.Chain.Append(chain.Action{Kind: chain.KindStepCompleted, Metadata: map[string]string{"step": step}})
	}
}

// NotifyStepFailed records a StepFailed action with the failure reason.
func (h *Host) NotifyStepFailed(step, reason string) {
	if h.Chain != nil {
		h.Chain.Append(chain.Action{Kind: chain.KindStepFailed, Metadata: map[string]string{"step": step, "reason": reason}})
	}
}

// GetCapabilityInputSchema returns the registered manifest's input type, if
// the capability is known.
func (h *Host) GetCapabilityInputSchema(capabilityID string) (*manifest.TypeExpr, bool) {
	if h.Marketplace == nil {
		return nil, false
	}
	m, ok := h.Marketplace.Get(capabilityID)
	if !ok {
		return nil, false
	}
	return m.InputType, true
}

// GetCapabilityMetrics returns the chain's recorded call/success/failure
// counters for one capability id.
func (h *Host) GetCapabilityMetrics(capabilityID string) chain.FunctionMetrics {
	if h.Chain == nil {
		return chain.FunctionMetrics{}
	}
	return h.Chain.GetCapabilityMetrics(capabilityID)
}
