package trust_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ccos-run/ccos/pkg/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_ShouldAutoSelect(t *testing.T) {
	p := trust.DefaultPolicy()
	assert.True(t, p.ShouldAutoSelect(trust.Official))
	assert.True(t, p.ShouldAutoSelect(trust.Approved))
	assert.True(t, p.ShouldAutoSelect(trust.Verified))
	assert.False(t, p.ShouldAutoSelect(trust.Unverified))

	p.AutoSelectOfficial = false
	assert.False(t, p.ShouldAutoSelect(trust.Official))
}

func TestPolicy_RequiresApproval(t *testing.T) {
	p := trust.DefaultPolicy()
	assert.True(t, p.RequiresApproval(trust.Unverified))
	assert.False(t, p.RequiresApproval(trust.Verified))

	p.RequireApprovalForUnknown = false
	assert.False(t, p.RequiresApproval(trust.Unverified))
}

func TestRegistry_ProposeAutoSelectsHighestEligibleTier(t *testing.T) {
	r := trust.NewRegistry()
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-a", Tier: trust.Verified, Lamport: 1}))
	require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: "srv-b", Tier: trust.Official, Lamport: 2}))

	outcome := r.Propose([]string{"srv-a", "srv-b"}, trust.DefaultPolicy())
	require.True(t, outcome.AutoSelected)
	assert.Equal(t, "srv-b", outcome.ServerID)
	assert.Equal(t, trust.Official, outcome.Tier)
}

func TestRegistry_ProposeUnverifiedOnlyNeedsApproval(t *testing.T) {
	r := trust.NewRegistry()
	outcome := r.Propose([]string{"srv-new"}, trust.DefaultPolicy())
	require.False(t, outcome.AutoSelected)
	require.True(t, outcome.NeedsApproval)
	require.Len(t, outcome.Displayed, 1)
	assert.Equal(t, "srv-new", outcome.Displayed[0].ServerID)
}

func TestRegistry_ProposeTruncatesToMaxDisplay(t *testing.T) {
	r := trust.NewRegistry()
	policy := trust.DefaultPolicy()
	policy.AutoSelectOfficial = false
	policy.AutoSelectApproved = false
	policy.MinAutoSelectTrust = trust.Official
	policy.MaxSelectionDisplay = 2

	for i, id := range []string{"srv-a", "srv-b", "srv-c"} {
		require.NoError(t, r.Apply(trust.Event{EventType: trust.EventTierSet, ServerID: id, Tier: trust.Verified, Lamport: uint64(i + 1)}))
	}

	outcome := r.Propose([]string{"srv-a", "srv-b", "srv-c"}, policy)
	assert.False(t, outcome.AutoSelected)
	assert.Len(t, outcome.Displayed, 2)
	assert.True(t, outcome.Truncated)
}

func TestRegistry_ApproveAllUpgradesEveryDisplayedCandidate(t *testing.T) {
	r := trust.NewRegistry()
	outcome := r.Propose([]string{"srv-x", "srv-y"}, trust.DefaultPolicy())
	require.True(t, outcome.NeedsApproval)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	next, err := r.ApproveAll(outcome, 1, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next)
	assert.Equal(t, trust.Approved, r.ResolveTier("srv-x", 0))
	assert.Equal(t, trust.Approved, r.ResolveTier("srv-y", 0))
	assert.Equal(t, now, r.LastUpdated("srv-x"))
}

func TestDeriveServerName_GitHubURL(t *testing.T) {
	name, err := trust.DeriveServerName("https://github.com/modelcontextprotocol/servers")
	require.NoError(t, err)
	assert.Equal(t, "github/modelcontextprotocol-servers", name)
}

func TestDeriveServerName_FallsBackToHost(t *testing.T) {
	name, err := trust.DeriveServerName("https://mcp.example.com/weather")
	require.NoError(t, err)
	assert.Equal(t, "mcp.example.com", name)
}

func TestBuildServerDescriptor_WebsocketScheme(t *testing.T) {
	d, err := trust.BuildServerDescriptor("wss://mcp.example.com/ws")
	require.NoError(t, err)
	assert.Equal(t, "websocket", d.Transport)

	d, err = trust.BuildServerDescriptor("https://mcp.example.com")
	require.NoError(t, err)
	assert.Equal(t, "http", d.Transport)
}

func TestOverridesStore_AddURLPersistsAndRanksFirst(t *testing.T) {
	dir := t.TempDir()
	store := trust.NewOverridesStore(filepath.Join(dir, "overrides.json"))

	_, err := store.AddURL("https://github.com/acme/weather-mcp", "mcp.weather.get_forecast", "mcp.weather.*")
	require.NoError(t, err)
	_, err = store.AddURL("https://mcp.backup.example.com", "mcp.weather.get_forecast", "mcp.weather.*")
	require.NoError(t, err)

	entries, err := store.ForCapability("mcp.weather.get_forecast")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "mcp.backup.example.com", entries[0].Server.Name)

	matched, err := store.ForCapability("mcp.weather.current_conditions")
	require.NoError(t, err)
	assert.Len(t, matched, 2)

	none, err := store.ForCapability("mcp.billing.charge_card")
	require.NoError(t, err)
	assert.Empty(t, none)
}
