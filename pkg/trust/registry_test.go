package trust_test

import (
	"testing"

	"github.com/ccos-run/ccos/pkg/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SetAndResolve(t *testing.T) {
	r := trust.NewRegistry()
	err := r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-a", Tier: trust.Approved, Lamport: 1})
	require.NoError(t, err)

	assert.Equal(t, trust.Approved, r.ResolveTier("srv-a", 0))
	assert.Equal(t, trust.Unverified, r.ResolveTier("srv-unknown", 0))
}

func TestRegistry_RevokeDowngradesToUnverified(t *testing.T) {
	r := trust.NewRegistry()
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-a", Tier: trust.Official, Lamport: 1}))
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierRevoked, ServerID: "srv-a", Lamport: 2}))

	assert.Equal(t, trust.Unverified, r.ResolveTier("srv-a", 0))
}

func TestRegistry_PointInTimeResolution(t *testing.T) {
	r := trust.NewRegistry()
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-a", Tier: trust.Verified, Lamport: 1}))
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-a", Tier: trust.Official, Lamport: 5}))

	assert.Equal(t, trust.Verified, r.ResolveTier("srv-a", 3))
	assert.Equal(t, trust.Official, r.ResolveTier("srv-a", 5))
	assert.Equal(t, trust.Official, r.ResolveTier("srv-a", 100))
}

func TestRegistry_TierUpgrade(t *testing.T) {
	r := trust.NewRegistry()
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-a", Tier: trust.Verified, Lamport: 1}))
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-a", Tier: trust.Approved, Lamport: 2}))

	assert.Equal(t, trust.Approved, r.ResolveTier("srv-a", 0))
	assert.Equal(t, 2, r.EventCount())
}

func TestRegistry_UnknownEventType(t *testing.T) {
	r := trust.NewRegistry()
	err := r.Apply(trust.Event{EventType: "BOGUS", ServerID: "srv-a", Lamport: 1})
	assert.Error(t, err)
	assert.Equal(t, 0, r.EventCount())
}

func TestRegistry_AutoSelect_PicksHighestTier(t *testing.T) {
	r := trust.NewRegistry()
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-a", Tier: trust.Verified, Lamport: 1}))
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-b", Tier: trust.Official, Lamport: 2}))

	chosen, tier, err := r.AutoSelect([]string{"srv-a", "srv-b"}, trust.SelectionPolicy{
		MinTier:             trust.Unverified,
		AutoSelectThreshold: trust.Verified,
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-b", chosen)
	assert.Equal(t, trust.Official, tier)
}

func TestRegistry_AutoSelect_BelowThresholdNeedsReview(t *testing.T) {
	r := trust.NewRegistry()
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-a", Tier: trust.Unverified, Lamport: 1}))

	_, _, err := r.AutoSelect([]string{"srv-a"}, trust.SelectionPolicy{
		MinTier:             trust.Unverified,
		AutoSelectThreshold: trust.Verified,
	})
	assert.ErrorIs(t, err, trust.ErrNeedsReview)
}

func TestRegistry_AutoSelect_NoCandidateMeetsMinTier(t *testing.T) {
	r := trust.NewRegistry()
	_, _, err := r.AutoSelect([]string{"srv-a"}, trust.SelectionPolicy{MinTier: trust.Approved})
	assert.Error(t, err)
}

func TestRegistry_ConfirmPendingAddition(t *testing.T) {
	r := trust.NewRegistry()
	err := r.Confirm(trust.PendingAddition{ServerID: "srv-new", URL: "https://example.com/mcp"}, 1)
	require.NoError(t, err)
	assert.Equal(t, trust.Verified, r.ResolveTier("srv-new", 0))
}
