package resolution

// UserInteractionStrategy is spec.md §4.G.3: when running interactively, ask
// the operator to supply or confirm a capability directly via Interactive's
// callback; otherwise this strategy is a no-op (ErrNotFound), falling
// through to ExternalLLM / ServiceDiscoveryHint so a non-interactive run
// never blocks on input that will never arrive.
type UserInteractionStrategy struct {
	// Prompt is invoked when ctx.Interactive is true, and should return the
	// operator's chosen capability id plus any args they supplied, or
	// ok=false if the operator declined to answer.
	Prompt func(intent SubIntent) (id string, args map[string]interface{}, ok bool)
}

func (s *UserInteractionStrategy) Name() string { return "UserInteraction" }

func (s *UserInteractionStrategy) CanHandle(intent SubIntent) bool { return true }

func (s *UserInteractionStrategy) Resolve(intent SubIntent, rc ResolutionContext) (ResolvedCapability, error) {
	if !rc.Interactive || s.Prompt == nil {
		return ResolvedCapability{}, ErrNotFound
	}
	id, args, ok := s.Prompt(intent)
	if !ok || id == "" {
		return ResolvedCapability{}, ErrNotFound
	}
	return ResolvedCapability{Kind: KindLocal, ID: id, Args: args, Confidence: 1.0}, nil
}
