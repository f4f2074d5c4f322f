package resolution

import "strings"

// ExternalLLMStrategy is spec.md §4.G.4: as a last resort before the
// service-discovery hint, ask an external LLM client to draft a capability
// via the "capability_synthesis" template, accepting the draft only if it
// contains the "(capability" sentinel marking a well-formed RTFS body — an
// LLM response that merely explains why it cannot help is rejected rather
// than returned as a resolved capability.
type ExternalLLMStrategy struct{}

func (s *ExternalLLMStrategy) Name() string { return "ExternalLLM" }

func (s *ExternalLLMStrategy) CanHandle(intent SubIntent) bool { return true }

func (s *ExternalLLMStrategy) Resolve(intent SubIntent, rc ResolutionContext) (ResolvedCapability, error) {
	if rc.LLM == nil {
		return ResolvedCapability{}, ErrNotFound
	}
	draft, err := rc.LLM.Complete("capability_synthesis", map[string]string{
		"description": intent.Description,
	})
	if err != nil || !strings.Contains(draft, "(capability") {
		return ResolvedCapability{}, ErrNotFound
	}
	return ResolvedCapability{Kind: KindSynthesized, ID: syntheticID(intent), RTFSSource: draft}, nil
}
