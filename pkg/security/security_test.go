package security_test

import (
	"testing"

	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_IsCapabilityAllowed_DefaultAllowsAll(t *testing.T) {
	c := security.NewContext("plan-1")
	assert.True(t, c.IsCapabilityAllowed("fs.read"))
}

func TestContext_DenyCapabilityOverridesAllowList(t *testing.T) {
	c := security.NewContext("plan-1")
	c.AllowCapability("fs.read")
	c.DenyCapability("fs.read")
	assert.False(t, c.IsCapabilityAllowed("fs.read"))
}

func TestContext_AllowListRestrictsToExplicitlyAllowed(t *testing.T) {
	c := security.NewContext("plan-1")
	c.AllowCapability("fs.read")
	assert.True(t, c.IsCapabilityAllowed("fs.read"))
	assert.False(t, c.IsCapabilityAllowed("fs.write"))
}

func TestContext_EnsureEffectsAllowed_DeniesExplicitDeny(t *testing.T) {
	c := security.NewContext("plan-1")
	c.DenyEffect("network")
	err := c.EnsureEffectsAllowed("http.get", []string{"network"})
	require.Error(t, err)
	assert.Equal(t, ccoserr.KindSecurityViolation, ccoserr.KindOf(err))
}

func TestContext_EnsureEffectsAllowed_AllowListFailsClosedForUnlisted(t *testing.T) {
	c := security.NewContext("plan-1")
	c.AllowEffect("filesystem-read")
	err := c.EnsureEffectsAllowed("fs.write", []string{"filesystem-write"})
	require.Error(t, err)
}

func TestContext_ContextExposure_DisabledByDefault(t *testing.T) {
	c := security.NewContext("plan-1")
	assert.False(t, c.IsContextExposureAllowedFor("fs.read"))
}

func TestContext_ContextExposure_FilterScopesToPrefix(t *testing.T) {
	c := security.NewContext("plan-1")
	c.SetContextExposure(true, security.ExposureFilter{Prefix: []string{"fs."}})
	assert.True(t, c.IsContextExposureAllowedFor("fs.read"))
	assert.False(t, c.IsContextExposureAllowedFor("http.get"))
}

func TestContext_LoadPolicy_EvaluatesDeclaredRule(t *testing.T) {
	c := security.NewContext("plan-1")
	require.NoError(t, c.LoadPolicy(`capability == "fs.read"`))

	allowed, err := c.EvaluatePolicy("call", "fs.read", nil)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = c.EvaluatePolicy("call", "fs.write", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestContext_EvaluatePolicy_NoPolicyLoadedDefersDecision(t *testing.T) {
	c := security.NewContext("plan-1")
	allowed, err := c.EvaluatePolicy("call", "fs.read", nil)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestContext_LoadPolicy_InvalidExpressionErrors(t *testing.T) {
	c := security.NewContext("plan-1")
	err := c.LoadPolicy("this is not valid cel (")
	assert.Error(t, err)
}
