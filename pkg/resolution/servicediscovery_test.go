package resolution_test

import (
	"testing"

	"github.com/ccos-run/ccos/pkg/resolution"
	"github.com/ccos-run/ccos/pkg/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHint struct {
	server, tool string
	ok           bool
}

func (h stubHint) Hint(intent resolution.SubIntent) (string, string, bool) {
	return h.server, h.tool, h.ok
}

func TestServiceDiscoveryHintStrategy_NoTrustRegistryPassesThrough(t *testing.T) {
	strat := &resolution.ServiceDiscoveryHintStrategy{Hints: stubHint{server: "github", tool: "list_issues", ok: true}}
	result, err := strat.Resolve(resolution.SubIntent{}, resolution.ResolutionContext{})
	require.NoError(t, err)
	assert.Equal(t, resolution.KindMCP, result.Kind)
	assert.Equal(t, "github", result.Server)
}

func TestServiceDiscoveryHintStrategy_UnverifiedServerBelowMinTierIsNotFound(t *testing.T) {
	reg := trust.NewRegistry() // "github" stays Unverified
	strat := &resolution.ServiceDiscoveryHintStrategy{
		Hints:  stubHint{server: "github", tool: "list_issues", ok: true},
		Trust:  reg,
		Policy: trust.SelectionPolicy{MinTier: trust.Verified, AutoSelectThreshold: trust.Approved},
	}
	_, err := strat.Resolve(resolution.SubIntent{}, resolution.ResolutionContext{})
	assert.ErrorIs(t, err, resolution.ErrNotFound)
}

func TestServiceDiscoveryHintStrategy_VerifiedBelowAutoSelectThresholdNeedsReview(t *testing.T) {
	reg := trust.NewRegistry()
	require.NoError(t, reg.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "github", Tier: trust.Verified, Lamport: 1}))

	strat := &resolution.ServiceDiscoveryHintStrategy{
		Hints:  stubHint{server: "github", tool: "list_issues", ok: true},
		Trust:  reg,
		Policy: trust.SelectionPolicy{MinTier: trust.Unverified, AutoSelectThreshold: trust.Approved},
	}
	_, err := strat.Resolve(resolution.SubIntent{}, resolution.ResolutionContext{})
	assert.ErrorIs(t, err, trust.ErrNeedsReview)
}

func TestServiceDiscoveryHintStrategy_ApprovedServerAutoSelectsWithHigherConfidence(t *testing.T) {
	reg := trust.NewRegistry()
	require.NoError(t, reg.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "github", Tier: trust.Approved, Lamport: 1}))

	strat := &resolution.ServiceDiscoveryHintStrategy{
		Hints:  stubHint{server: "github", tool: "list_issues", ok: true},
		Trust:  reg,
		Policy: trust.SelectionPolicy{MinTier: trust.Unverified, AutoSelectThreshold: trust.Verified},
	}
	result, err := strat.Resolve(resolution.SubIntent{}, resolution.ResolutionContext{})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, result.Confidence, 0.001)
}
