// Package security implements the per-plan Security Context: capability
// allow/deny, effect allow/deny sets, and the context-exposure predicate that
// gates what a capability call may see of the ambient plan state.
//
// Grounded on the teacher's pkg/governance policy engine: plain predicates
// are the default, fail-closed evaluation path; an optional CEL-backed
// policy (google/cel-go, already a teacher dependency) lets an operator
// express allow/deny rules declaratively on top of the same predicates.
package security

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// ExecutionMode controls whether capability calls actually run.
type ExecutionMode string

const (
	ModeFull   ExecutionMode = "full"
	ModeDryRun ExecutionMode = "dry-run"
)

// ExposureFilter scopes context exposure to an exact capability id or an id
// prefix (e.g. "fs." matches every fs.* capability).
type ExposureFilter struct {
	Exact  map[string]bool
	Prefix []string
}

func (f ExposureFilter) matches(name string) bool {
	if f.Exact[name] {
		return true
	}
	for _, p := range f.Prefix {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Context is one plan's security posture: which capabilities may run, which
// effects are permitted, and whether ambient plan context may be exposed to
// a capability call.
type Context struct {
	mu sync.RWMutex

	PlanID string
	Mode   ExecutionMode

	allowedCapabilities map[string]bool // nil/empty => allow all not explicitly denied
	deniedCapabilities  map[string]bool

	allowedEffects map[string]bool
	deniedEffects  map[string]bool

	exposeReadonlyContext bool
	exposureFilter        ExposureFilter

	policy *cel.Program // optional declarative overlay
}

// NewContext creates a Context defaulting to full execution, no capability
// restrictions, and no context exposure — exposure must be opted into
// explicitly rather than defaulting open.
func NewContext(planID string) *Context {
	return &Context{
		PlanID:              planID,
		Mode:                ModeFull,
		allowedCapabilities: make(map[string]bool),
		deniedCapabilities:  make(map[string]bool),
		allowedEffects:      make(map[string]bool),
		deniedEffects:       make(map[string]bool),
	}
}

// DenyCapability blocks a specific capability id regardless of any allow rule.
func (c *Context) DenyCapability(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deniedCapabilities[id] = true
}

// AllowCapability adds id to the allow-list. Once any capability is
// explicitly allow-listed, only allow-listed capabilities may run.
func (c *Context) AllowCapability(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowedCapabilities[id] = true
}

// AllowEffect/DenyEffect manage the effect allow/deny sets.
func (c *Context) AllowEffect(effect string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowedEffects[effect] = true
}

func (c *Context) DenyEffect(effect string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deniedEffects[effect] = true
}

// SetContextExposure configures whether (and to whom) read-only plan context
// is exposed to capability calls.
func (c *Context) SetContextExposure(enabled bool, filter ExposureFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposeReadonlyContext = enabled
	c.exposureFilter = filter
}

// IsCapabilityAllowed reports whether a capability id may be invoked.
func (c *Context) IsCapabilityAllowed(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deniedCapabilities[id] {
		return false
	}
	if len(c.allowedCapabilities) == 0 {
		return true
	}
	return c.allowedCapabilities[id]
}

// EnsureEffectsAllowed fails closed with a SecurityViolation if any declared
// effect is denied, or (when an allow-list is set) not explicitly allowed.
func (c *Context) EnsureEffectsAllowed(capabilityID string, effects []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range effects {
		if c.deniedEffects[e] {
			return ccoserr.New(ccoserr.KindSecurityViolation,
				fmt.Sprintf("capability %q: effect %q is denied", capabilityID, e))
		}
		if len(c.allowedEffects) > 0 && !c.allowedEffects[e] {
			return ccoserr.New(ccoserr.KindSecurityViolation,
				fmt.Sprintf("capability %q: effect %q is not in the allow-list", capabilityID, e))
		}
	}
	return nil
}

// IsContextExposureAllowedFor reports whether read-only plan context may be
// handed to the named capability.
func (c *Context) IsContextExposureAllowedFor(capabilityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.exposeReadonlyContext {
		return false
	}
	if len(c.exposureFilter.Exact) == 0 && len(c.exposureFilter.Prefix) == 0 {
		return true
	}
	return c.exposureFilter.matches(capabilityID)
}

// LoadPolicy compiles a CEL expression evaluating to bool and installs it as
// this context's declarative overlay. The expression sees `action`,
// `capability`, and `effects` (a list of strings).
func (c *Context) LoadPolicy(source string) error {
	env, err := cel.NewEnv(
		cel.Variable("action", types.StringType),
		cel.Variable("capability", types.StringType),
		cel.Variable("effects", types.NewListType(types.StringType)),
	)
	if err != nil {
		return fmt.Errorf("security: building CEL env: %w", err)
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("security: compiling policy: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("security: constructing program: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = &prg
	return nil
}

// EvaluatePolicy runs the declarative overlay, if one is loaded. A missing
// policy is treated as "no opinion" (true); an evaluation error fails closed.
func (c *Context) EvaluatePolicy(action, capabilityID string, effects []string) (bool, error) {
	c.mu.RLock()
	prg := c.policy
	c.mu.RUnlock()
	if prg == nil {
		return true, nil
	}

	out, _, err := (*prg).Eval(map[string]interface{}{
		"action":     action,
		"capability": capabilityID,
		"effects":    effects,
	})
	if err != nil {
		return false, ccoserr.Wrap(ccoserr.KindSecurityViolation, "policy evaluation failed", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, ccoserr.New(ccoserr.KindSecurityViolation, "policy did not evaluate to a boolean")
	}
	return allowed, nil
}
