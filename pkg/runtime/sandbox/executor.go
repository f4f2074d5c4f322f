package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/manifest"
)

// Delegate is the subset of pkg/host.CapabilityExecutor the Executor falls
// back to for any provider kind other than Sandboxed, so a Host can be
// configured with a single CapabilityExecutor that covers every kind.
type Delegate interface {
	Execute(ctx context.Context, m *manifest.CapabilityManifest, args map[string]interface{}) (interface{}, error)
}

// Executor adapts a Sandbox, a PolicyEnforcer, and a CredentialBroker into
// the Runtime Host's CapabilityExecutor seam (pkg/host.CapabilityExecutor),
// dispatching only capabilities whose manifest declares provider kind
// Sandboxed and delegating everything else to Next.
type Executor struct {
	Sandbox Sandbox
	Policy  *PolicyEnforcer // nil skips FS/network policy checks
	Broker  *CredentialBroker // nil skips scoped-credential issuance
	Next    Delegate          // nil rejects non-Sandboxed manifests outright
}

// NewExecutor builds an Executor for the Sandboxed provider kind. policy and
// broker may be nil to skip their respective checks; next is consulted for
// any manifest that does not declare provider kind Sandboxed.
func NewExecutor(sb Sandbox, policy *PolicyEnforcer, broker *CredentialBroker, next Delegate) *Executor {
	return &Executor{Sandbox: sb, Policy: policy, Broker: broker, Next: next}
}

// Execute implements pkg/host.CapabilityExecutor.
func (e *Executor) Execute(ctx context.Context, m *manifest.CapabilityManifest, args map[string]interface{}) (interface{}, error) {
	if m.Provider.Kind != manifest.ProviderSandboxed {
		if e.Next != nil {
			return e.Next.Execute(ctx, m, args)
		}
		return nil, ccoserr.New(ccoserr.KindInternal, fmt.Sprintf("sandbox: capability %q declares provider %q, no delegate executor configured", m.ID, m.Provider.Kind))
	}

	if e.Policy != nil {
		for _, path := range m.Provider.Filesystem {
			if res := e.Policy.CheckFS(path, true); !res.Allowed {
				return nil, ccoserr.New(ccoserr.KindSecurityViolation, fmt.Sprintf("sandbox: capability %q: %s", m.ID, res.Reason))
			}
		}
		if m.Provider.NetworkPolicy != "" && m.Provider.NetworkPolicy != "deny" {
			if res := e.Policy.CheckNetwork(m.Provider.NetworkPolicy); !res.Allowed {
				return nil, ccoserr.New(ccoserr.KindSecurityViolation, fmt.Sprintf("sandbox: capability %q: %s", m.ID, res.Reason))
			}
		}
	}

	if e.Broker != nil && len(m.Provider.Secrets) > 0 {
		if _, err := e.Broker.IssueToken(TokenRequest{SandboxID: m.ID, RequestedScopes: m.Provider.Secrets, TTLSeconds: 60}); err != nil {
			return nil, ccoserr.New(ccoserr.KindSecurityViolation, fmt.Sprintf("sandbox: capability %q: credential broker: %s", m.ID, err))
		}
		// The scoped token itself is handed to the module through whatever
		// secret-injection surface its manifest's Runtime declares (env var,
		// mounted file); no manifest field surfaces that contract yet, so the
		// module runs with the token issued but not yet delivered.
	}

	input, err := json.Marshal(args)
	if err != nil {
		return nil, ccoserr.New(ccoserr.KindSchema, fmt.Sprintf("sandbox: capability %q: marshal args: %s", m.ID, err))
	}

	ref := Ref{Name: m.ID, Hash: m.Provider.SourceHash}
	out, err := e.Sandbox.Run(ctx, ref, input)
	if err != nil {
		return nil, fmt.Errorf("sandbox: capability %q: %w", m.ID, err)
	}

	if len(out) == 0 {
		return nil, nil
	}
	var result interface{}
	if err := json.Unmarshal(out, &result); err != nil {
		return string(out), nil
	}
	return result, nil
}
