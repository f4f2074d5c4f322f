// Package host implements the Runtime Host: the thin per-call adaptor the
// evaluator calls through (execute_capability and its notify/context-setter
// surface), composing budget, security, chain, and marketplace/orchestrator
// dispatch into the nine-step protocol of spec.md §4.I. Grounded on the
// teacher's pkg/bridge/kernel_bridge.go Govern() composition: budget check,
// record pending action, policy evaluation, record completion action,
// fail-closed throughout.
package host

import (
	"strings"
	"sync"
)

// HostPlanContext tracks the ambient plan state a capability call may read
// (subject to exposure policy): the active plan, its primary intent, every
// intent id along the way, the current step name, and a free-form
// step-scoped context map.
type HostPlanContext struct {
	mu sync.RWMutex

	PlanID        string
	PrimaryIntent string
	IntentIDs     []string
	Step          string
	StepContext   map[string]interface{}

	stepOverrides map[string]bool // step name -> exposure override
	hints         map[string]interface{}
}

// NewPlanContext creates an empty HostPlanContext for planID.
func NewPlanContext(planID, primaryIntent string) *HostPlanContext {
	return &HostPlanContext{
		PlanID:        planID,
		PrimaryIntent: primaryIntent,
		StepContext:   make(map[string]interface{}),
		stepOverrides: make(map[string]bool),
		hints:         make(map[string]interface{}),
	}
}

// SetStep records the step currently executing.
func (p *HostPlanContext) SetStep(step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Step = step
}

// AddIntent appends an intent id to the plan's lineage.
func (p *HostPlanContext) AddIntent(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IntentIDs = append(p.IntentIDs, id)
}

// SetStepContextValue/ClearStepContextValue manage the free-form step
// context map exposed in the context snapshot.
func (p *HostPlanContext) SetStepContextValue(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StepContext[key] = value
}

func (p *HostPlanContext) ClearStepContextValue(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.StepContext, key)
}

func (p *HostPlanContext) GetContextValue(key string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.StepContext[key]
	return v, ok
}

// SetStepExposureOverride/ClearStepExposureOverride let a single step force
// context exposure on or off regardless of the global security flag's
// default, per spec.md §4.I step 5's "step-override permits" clause.
func (p *HostPlanContext) SetStepExposureOverride(step string, allow bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stepOverrides[step] = allow
}

func (p *HostPlanContext) ClearStepExposureOverride(step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stepOverrides, step)
}

func (p *HostPlanContext) exposureOverride(step string) (allow bool, has bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	allow, has = p.stepOverrides[step]
	return
}

// SetExecutionHint/ClearExecutionHint manage retry/timeout/fallback hints
// threaded into a HostCall's metadata, per spec.md §4.I step 7.
func (p *HostPlanContext) SetExecutionHint(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hints[key] = value
}

func (p *HostPlanContext) ClearExecutionHint(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.hints, key)
}

// snapshot returns the data needed to build a ContextSnapshot, read under
// one lock acquisition.
func (p *HostPlanContext) snapshot() (planID, primaryIntent, step string, intentIDs []string, stepContext map[string]interface{}, hints map[string]interface{}) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	intentIDs = append([]string{}, p.IntentIDs...)
	stepContext = make(map[string]interface{}, len(p.StepContext))
	for k, v := range p.StepContext {
		stepContext[k] = v
	}
	hints = make(map[string]interface{}, len(p.hints))
	for k, v := range p.hints {
		hints[k] = v
	}
	return p.PlanID, p.PrimaryIntent, p.Step, intentIDs, stepContext, hints
}

// flattenedStepContextKeys produces the "flattened step_context string keys"
// spec.md §4.I step 5 names: dotted keys for nested maps, so a context
// snapshot consumer can read e.g. "user.name" without walking nested maps.
func flattenedStepContextKeys(prefix string, m map[string]interface{}, out map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flattenedStepContextKeys(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func sanitizeKeyList(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[strings.TrimSpace(k)] = true
	}
	return out
}
