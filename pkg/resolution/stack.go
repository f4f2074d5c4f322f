package resolution

import "errors"

// CompositeStrategy tries its member strategies in declared order. On
// ErrNotFound it continues to the next strategy; any other error aborts the
// stack and propagates immediately, per spec.md §4.G.
type CompositeStrategy struct {
	Strategies []Strategy
}

// NewDefaultStack builds the default strategy order from spec.md §4.G:
// Catalog, PureRTFSGeneration, UserInteraction, ExternalLLM,
// ServiceDiscoveryHint.
func NewDefaultStack(catalog *CatalogStrategy, rtfs *PureRTFSStrategy, interaction *UserInteractionStrategy, llm *ExternalLLMStrategy, hint *ServiceDiscoveryHintStrategy) *CompositeStrategy {
	return &CompositeStrategy{Strategies: []Strategy{catalog, rtfs, interaction, llm, hint}}
}

// Resolve runs each strategy able to handle intent, in order, stopping at
// the first success or hard error.
func (c *CompositeStrategy) Resolve(intent SubIntent, ctx ResolutionContext) (ResolvedCapability, error) {
	for _, s := range c.Strategies {
		if !s.CanHandle(intent) {
			continue
		}
		result, err := s.Resolve(intent, ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return ResolvedCapability{}, err
	}
	return ResolvedCapability{}, ErrNotFound
}
