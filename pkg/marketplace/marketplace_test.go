package marketplace_test

import (
	"testing"

	"github.com/ccos-run/ccos/pkg/manifest"
	"github.com/ccos-run/ccos/pkg/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(id, version string) *manifest.CapabilityManifest {
	return &manifest.CapabilityManifest{
		ID:          id,
		DisplayName: id,
		Version:     version,
		Provider:    manifest.Provider{Kind: manifest.ProviderMCP},
	}
}

func TestMarketplace_RegisterAndGet(t *testing.T) {
	mp := marketplace.New(nil)
	require.NoError(t, mp.Register(testManifest("mcp.github.list_issues", "1.0.0")))

	assert.True(t, mp.Has("mcp.github.list_issues"))
	got, ok := mp.Get("mcp.github.list_issues")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", got.Version)
}

func TestMarketplace_RegisterTwiceFails(t *testing.T) {
	mp := marketplace.New(nil)
	require.NoError(t, mp.Register(testManifest("mcp.github.list_issues", "1.0.0")))
	assert.Error(t, mp.Register(testManifest("mcp.github.list_issues", "1.1.0")))
}

func TestMarketplace_UpdateRejectsBreakingChangeWithoutForce(t *testing.T) {
	mp := marketplace.New(nil)
	require.NoError(t, mp.Register(testManifest("mcp.github.list_issues", "1.0.0")))

	_, err := mp.Update(testManifest("mcp.github.list_issues", "2.0.0"), false)
	assert.Error(t, err)

	result, err := mp.Update(testManifest("mcp.github.list_issues", "2.0.0"), true)
	require.NoError(t, err)
	assert.True(t, result.Updated)
	assert.Equal(t, "1.0.0", result.PreviousVersion)
}

func TestMarketplace_UpdateAcceptsNonBreakingChange(t *testing.T) {
	mp := marketplace.New(nil)
	require.NoError(t, mp.Register(testManifest("mcp.github.list_issues", "1.0.0")))

	result, err := mp.Update(testManifest("mcp.github.list_issues", "1.1.0"), false)
	require.NoError(t, err)
	assert.True(t, result.Updated)
	assert.Equal(t, "newer", result.VersionComparison)
}

func TestMarketplace_SearchByIDAndList(t *testing.T) {
	mp := marketplace.New(nil)
	require.NoError(t, mp.Register(testManifest("mcp.github.list_issues", "1.0.0")))
	require.NoError(t, mp.Register(testManifest("mcp.github.create_issue", "1.0.0")))
	require.NoError(t, mp.Register(testManifest("mcp.slack.post_message", "1.0.0")))

	githubOnes := mp.SearchByID("github")
	require.Len(t, githubOnes, 2)
	assert.Equal(t, "mcp.github.create_issue", githubOnes[0].ID)

	assert.Len(t, mp.List(""), 3)
}

func TestMarketplace_PersistsToFileStorage(t *testing.T) {
	dir := t.TempDir()
	storage, err := marketplace.NewFileStorage(dir)
	require.NoError(t, err)

	mp := marketplace.New(storage)
	m := testManifest("mcp.github.list_issues", "1.0.0")
	require.NoError(t, mp.Register(m))

	data, err := storage.Read("mcp", "github", "list_issues")
	require.NoError(t, err)
	assert.Contains(t, string(data), "mcp.github.list_issues")
}
