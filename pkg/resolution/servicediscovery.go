package resolution

import "github.com/ccos-run/ccos/pkg/trust"

// ServiceDiscoveryHint is consulted by ServiceDiscoveryHintStrategy to look
// up an MCP server/tool pair that might satisfy an intent — the seam the
// Missing-Capability Resolver's MCPRegistry resolution method hangs off of.
type ServiceDiscoveryHint interface {
	// Hint returns a candidate (server, tool) pair for intent, or ok=false
	// if nothing in the service registry looks relevant.
	Hint(intent SubIntent) (server, tool string, ok bool)
}

// ServiceDiscoveryHintStrategy is spec.md §4.G.5: the terminal strategy in
// the default stack, consulted only once Catalog, PureRTFSGeneration,
// UserInteraction, and ExternalLLM have all reported ErrNotFound. It never
// itself calls out to an MCP server — it only returns the hinted
// (server, tool) pair as an MCP-kind resolution for the Runtime Host to
// dispatch, keeping this strategy free of network I/O.
//
// Trust, when set, gates the hinted server against the Server Trust
// Registry & Selection policy of spec.md §4.J before returning it: a server
// below Policy.MinTier is treated the same as no hint at all (ErrNotFound,
// letting the stack try whatever comes after it — nothing does, by
// default, so the overall resolution fails), while a server that clears
// MinTier but not Policy.AutoSelectThreshold aborts the stack with
// trust.ErrNeedsReview rather than silently auto-selecting an
// insufficiently-trusted server.
type ServiceDiscoveryHintStrategy struct {
	Hints  ServiceDiscoveryHint // nil disables this strategy
	Trust  *trust.Registry      // nil skips the trust gate entirely
	Policy trust.SelectionPolicy
}

func (s *ServiceDiscoveryHintStrategy) Name() string { return "ServiceDiscoveryHint" }

func (s *ServiceDiscoveryHintStrategy) CanHandle(intent SubIntent) bool { return s.Hints != nil }

func (s *ServiceDiscoveryHintStrategy) Resolve(intent SubIntent, rc ResolutionContext) (ResolvedCapability, error) {
	if s.Hints == nil {
		return ResolvedCapability{}, ErrNotFound
	}
	server, tool, ok := s.Hints.Hint(intent)
	if !ok {
		return ResolvedCapability{}, ErrNotFound
	}

	confidence := 0.5
	if s.Trust != nil {
		_, tier, err := s.Trust.AutoSelect([]string{server}, s.Policy)
		if err != nil && err != trust.ErrNeedsReview {
			return ResolvedCapability{}, ErrNotFound
		}
		if err == trust.ErrNeedsReview {
			return ResolvedCapability{}, err
		}
		// Official/Approved servers are hinted with higher confidence than
		// the flat default; Verified keeps the default.
		if tier >= trust.Approved {
			confidence = 0.75
		}
	}
	return ResolvedCapability{Kind: KindMCP, Server: server, Tool: tool, Confidence: confidence}, nil
}
