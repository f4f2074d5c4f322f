package host_test

import (
	"context"
	"testing"

	"github.com/ccos-run/ccos/pkg/budget"
	"github.com/ccos-run/ccos/pkg/chain"
	"github.com/ccos-run/ccos/pkg/host"
	"github.com/ccos-run/ccos/pkg/manifest"
	"github.com/ccos-run/ccos/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	byID map[string]*manifest.CapabilityManifest
}

func (f *fakeRegistry) Get(id string) (*manifest.CapabilityManifest, bool) {
	m, ok := f.byID[id]
	return m, ok
}

type fakeExecutor struct {
	calls  int
	result interface{}
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, m *manifest.CapabilityManifest, args map[string]interface{}) (interface{}, error) {
	f.calls++
	return f.result, f.err
}

func unlimitedBudget() *budget.BudgetContext {
	return budget.NewBudgetContext("run-1", map[budget.Dimension]budget.Limit{
		budget.DimensionCalls:    {Cap: 1000, Policy: budget.PolicyHardStop},
		budget.DimensionDuration: {Cap: 1000000, Policy: budget.PolicySoftWarn},
	})
}

func TestExecuteCapability_RoutesToExecutorAndRecordsChain(t *testing.T) {
	registry := &fakeRegistry{byID: map[string]*manifest.CapabilityManifest{
		"ccos.weather.forecast": {ID: "ccos.weather.forecast", Version: "1.0.0", Provider: manifest.Provider{Kind: manifest.ProviderLocal}},
	}}
	exec := &fakeExecutor{result: map[string]interface{}{"temp": 72}}
	c := chain.New()

	h := host.New(unlimitedBudget(), security.NewContext("plan-1"), c, registry, nil)
	h.Executor = exec

	result, err := h.ExecuteCapability(context.Background(), "ccos.weather.forecast", map[string]interface{}{"city": "nyc"})
	require.NoError(t, err)
	assert.Equal(t, exec.result, result)
	assert.Equal(t, 1, exec.calls)

	metrics := h.GetCapabilityMetrics("ccos.weather.forecast")
	assert.Equal(t, int64(1), metrics.Calls)
	assert.Equal(t, int64(1), metrics.Successes)
}

func TestExecuteCapability_SecurityDenyBlocksCall(t *testing.T) {
	registry := &fakeRegistry{byID: map[string]*manifest.CapabilityManifest{}}
	exec := &fakeExecutor{}
	sec := security.NewContext("plan-1")
	sec.DenyCapability("ccos.weather.forecast")

	h := host.New(unlimitedBudget(), sec, chain.New(), registry, nil)
	h.Executor = exec

	_, err := h.ExecuteCapability(context.Background(), "ccos.weather.forecast", nil)
	require.Error(t, err)
	assert.Equal(t, 0, exec.calls)
}

func TestExecuteCapability_BudgetHardStopDeniesCall(t *testing.T) {
	registry := &fakeRegistry{byID: map[string]*manifest.CapabilityManifest{}}
	b := budget.NewBudgetContext("run-1", map[budget.Dimension]budget.Limit{
		budget.DimensionCalls: {Cap: 0, Policy: budget.PolicyHardStop},
	})
	h := host.New(b, security.NewContext("plan-1"), chain.New(), registry, nil)
	h.Executor = &fakeExecutor{}

	_, err := h.ExecuteCapability(context.Background(), "ccos.weather.forecast", nil)
	require.Error(t, err)
}

func TestExecuteCapability_DryRunHighRiskSynthesizesMockWithoutExecuting(t *testing.T) {
	registry := &fakeRegistry{byID: map[string]*manifest.CapabilityManifest{
		"ccos.billing.charge_card": {ID: "ccos.billing.charge_card", Version: "1.0.0", Provider: manifest.Provider{Kind: manifest.ProviderHTTP}},
	}}
	exec := &fakeExecutor{result: "should not be returned"}

	h := host.New(unlimitedBudget(), security.NewContext("plan-1"), chain.New(), registry, nil)
	h.Executor = exec
	h.ExecutionMode = security.ModeDryRun

	result, err := h.ExecuteCapability(context.Background(), "ccos.billing.charge_card", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, exec.calls, "dry-run must skip real execution for high-risk capabilities")

	mock, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "simulated", mock["status"])
}

func TestPlanContext_ContextSnapshotExposureRequiresOptIn(t *testing.T) {
	registry := &fakeRegistry{byID: map[string]*manifest.CapabilityManifest{
		"ccos.weather.forecast": {ID: "ccos.weather.forecast", Version: "1.0.0"},
	}}
	exec := &fakeExecutor{result: "ok"}
	plan := host.NewPlanContext("plan-1", "check the weather")
	plan.SetStepContextValue("user.city", "nyc")

	sec := security.NewContext("plan-1")
	h := host.New(unlimitedBudget(), sec, chain.New(), registry, plan)
	h.Executor = exec

	_, err := h.ExecuteCapability(context.Background(), "ccos.weather.forecast", nil)
	require.NoError(t, err)

	sec.SetContextExposure(true, security.ExposureFilter{})
	_, err = h.ExecuteCapability(context.Background(), "ccos.weather.forecast", nil)
	require.NoError(t, err)
}
