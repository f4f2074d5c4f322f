package resolution_test

import (
	"testing"

	"github.com/ccos-run/ccos/pkg/manifest"
	"github.com/ccos-run/ccos/pkg/marketplace"
	"github.com/ccos-run/ccos/pkg/resolution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerTestCapability(t *testing.T, mp *marketplace.Marketplace, id, display, desc string) {
	t.Helper()
	err := mp.Register(&manifest.CapabilityManifest{
		ID:          id,
		DisplayName: display,
		Version:     "1.0.0",
		Description: desc,
		EffectClass: manifest.EffectClassPure,
		Provider:    manifest.Provider{Kind: manifest.ProviderLocal},
	})
	require.NoError(t, err)
}

func TestCatalogStrategy_SuggestedToolHintTakesPriority(t *testing.T) {
	mp := marketplace.New(nil)
	registerTestCapability(t, mp, "ccos.github.list_issues", "List Issues", "list issues in a repository")

	strat := &resolution.CatalogStrategy{}
	intent := resolution.SubIntent{
		Description:     "show me the open issues",
		ExtractedParams: map[string]interface{}{"_suggested_tool": "ccos.github.list_issues"},
	}
	result, err := strat.Resolve(intent, resolution.ResolutionContext{Catalog: mp})
	require.NoError(t, err)
	assert.Equal(t, resolution.KindLocal, result.Kind)
	assert.Equal(t, "ccos.github.list_issues", result.ID)
	assert.InDelta(t, 0.95, result.Confidence, 0.001)
}

func TestCatalogStrategy_HeuristicScoringBelowThresholdNotFound(t *testing.T) {
	mp := marketplace.New(nil)
	registerTestCapability(t, mp, "ccos.weather.forecast", "Weather Forecast", "get a weather forecast for a city")

	strat := &resolution.CatalogStrategy{}
	intent := resolution.SubIntent{Description: "play some music please"}
	_, err := strat.Resolve(intent, resolution.ResolutionContext{Catalog: mp})
	assert.ErrorIs(t, err, resolution.ErrNotFound)
}

func TestCatalogStrategy_BuiltInShortCircuitsCatalog(t *testing.T) {
	strat := &resolution.CatalogStrategy{}
	intent := resolution.SubIntent{Description: "ask the user-input for a name"}
	result, err := strat.Resolve(intent, resolution.ResolutionContext{})
	require.NoError(t, err)
	assert.Equal(t, resolution.KindBuiltIn, result.Kind)
	assert.Equal(t, "user-input", result.ID)
}

func TestPureRTFSStrategy_DeterministicTemplate(t *testing.T) {
	strat := &resolution.PureRTFSStrategy{}
	intent := resolution.SubIntent{Description: "filter the results where status is open"}
	result, err := strat.Resolve(intent, resolution.ResolutionContext{})
	require.NoError(t, err)
	assert.Equal(t, resolution.KindSynthesized, result.Kind)
	assert.Contains(t, result.RTFSSource, "(capability")
	assert.Contains(t, result.RTFSSource, "data.filter")
}

func TestCompositeStrategy_FallsThroughToRTFSWhenCatalogMisses(t *testing.T) {
	mp := marketplace.New(nil)
	stack := resolution.NewDefaultStack(
		&resolution.CatalogStrategy{},
		&resolution.PureRTFSStrategy{},
		&resolution.UserInteractionStrategy{},
		&resolution.ExternalLLMStrategy{},
		&resolution.ServiceDiscoveryHintStrategy{},
	)

	intent := resolution.SubIntent{Description: "sort the entries by name"}
	result, err := stack.Resolve(intent, resolution.ResolutionContext{Catalog: mp})
	require.NoError(t, err)
	assert.Equal(t, resolution.KindSynthesized, result.Kind)
}
