package resolver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ccos-run/ccos/pkg/budget"
	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/manifest"
	"github.com/ccos-run/ccos/pkg/marketplace"
	"github.com/ccos-run/ccos/pkg/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	results []error // nil = success, non-nil = that error; consumed in order
	calls   int
}

func (s *stubHandler) Attempt(ctx context.Context, capabilityID string, method resolver.Method) (*manifest.CapabilityManifest, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		return nil, ccoserr.New(ccoserr.KindMissing, "stub: no more canned results")
	}
	if s.results[idx] != nil {
		return nil, s.results[idx]
	}
	return &manifest.CapabilityManifest{ID: capabilityID, Version: "1.0.0", Provider: manifest.Provider{Kind: manifest.ProviderLocal}}, nil
}

func TestAssessRisk_CriticalFinancialPattern(t *testing.T) {
	r := resolver.AssessRisk("ccos.billing.charge_card", false, false)
	assert.Contains(t, r.Reasons, "financial action")
	assert.True(t, r.RequiresHumanApproval)
}

func TestAssessRisk_LowByDefault(t *testing.T) {
	r := resolver.AssessRisk("ccos.weather.get_forecast", false, false)
	assert.False(t, r.RequiresHumanApproval)
}

func TestResolve_CriticalEnqueuesApprovalAndBlocksAutomatedMethods(t *testing.T) {
	mp := marketplace.New(nil)
	mcpHandler := &stubHandler{}
	res := resolver.New(mp, map[resolver.Method]resolver.MethodHandler{
		resolver.MethodManual: mcpHandler,
	}, resolver.Config{})

	_, err := res.Resolve(context.Background(), "ccos.billing.charge_card")
	require.ErrorIs(t, err, resolver.ErrPendingApproval)
	assert.Equal(t, 0, mcpHandler.calls, "no method should run before approval")

	pending := res.Queue.PendingFIFO()
	require.Len(t, pending, 1)

	approved, err := res.Queue.Approve(pending[0].ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, resolver.ApprovalApproved, approved.Status)

	m, err := res.Resolve(context.Background(), "ccos.billing.charge_card")
	require.NoError(t, err)
	assert.Equal(t, "ccos.billing.charge_card", m.ID)
	assert.Equal(t, 1, mcpHandler.calls)
}

func TestResolve_RejectionMarksCapabilityFailed(t *testing.T) {
	mp := marketplace.New(nil)
	res := resolver.New(mp, map[resolver.Method]resolver.MethodHandler{}, resolver.Config{})

	_, err := res.Resolve(context.Background(), "ccos.billing.refund_customer")
	require.ErrorIs(t, err, resolver.ErrPendingApproval)

	pending := res.Queue.PendingFIFO()
	require.Len(t, pending, 1)
	_, err = res.Queue.Reject(pending[0].ID, "ops", "not authorized")
	require.NoError(t, err)

	_, err = res.Resolve(context.Background(), "ccos.billing.refund_customer")
	require.ErrorIs(t, err, resolver.ErrFailed)
}

func TestResolve_LowRiskTriesMethodsInOrderThenSucceeds(t *testing.T) {
	mp := marketplace.New(nil)
	registryHandler := &stubHandler{results: []error{errors.New("not found in registry")}}
	openapiHandler := &stubHandler{results: []error{nil}}

	res := resolver.New(mp, map[resolver.Method]resolver.MethodHandler{
		resolver.MethodMCPRegistry:   registryHandler,
		resolver.MethodOpenAPIImport: openapiHandler,
	}, resolver.Config{BackoffBase: time.Millisecond, BackoffMax: time.Second})

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res.Clock = func() time.Time { return clock }

	_, err := res.Resolve(context.Background(), "ccos.weather.get_forecast")
	require.Error(t, err) // first attempt (registry) fails
	assert.Equal(t, 1, registryHandler.calls)

	clock = clock.Add(time.Second) // past the capped backoff window
	m, err := res.Resolve(context.Background(), "ccos.weather.get_forecast")
	require.NoError(t, err)
	assert.Equal(t, "ccos.weather.get_forecast", m.ID)
	assert.Equal(t, 1, openapiHandler.calls)
	assert.True(t, mp.Has("ccos.weather.get_forecast"))
}

func TestHistory_AttemptCountStrictlyIncreases(t *testing.T) {
	h := resolver.NewHistory(5)
	now := time.Now()
	a1 := h.Record("cap.x", now, resolver.MethodMCPRegistry, false, "err", nil)
	a2 := h.Record("cap.x", now, resolver.MethodOpenAPIImport, false, "err", nil)
	a3 := h.Record("cap.x", now, resolver.MethodHTTPWrapper, true, "", nil)
	assert.Equal(t, 1, a1.AttemptCount)
	assert.Equal(t, 2, a2.AttemptCount)
	assert.Equal(t, 3, a3.AttemptCount)
}

func TestResolve_AutonomyBudgetForcesApprovalForOtherwiseLowRisk(t *testing.T) {
	mp := marketplace.New(nil)
	registryHandler := &stubHandler{results: []error{nil}}

	autonomy := budget.NewRiskEnforcer()
	autonomy.SetBudget(&budget.RiskBudget{RunID: "run-1", AutonomyLevel: 0, RiskScoreCap: 1000, ComputeCapMillis: 1000, BlastRadiusCap: 1000})

	res := resolver.New(mp, map[resolver.Method]resolver.MethodHandler{
		resolver.MethodMCPRegistry: registryHandler,
	}, resolver.Config{})
	res.Autonomy = autonomy
	res.AutonomyRunID = "run-1"

	// Low risk per the name-pattern table, but autonomy level 0 denies it.
	_, err := res.Resolve(context.Background(), "ccos.weather.get_forecast")
	require.ErrorIs(t, err, resolver.ErrPendingApproval)
	assert.Equal(t, 0, registryHandler.calls, "no automated method should run while autonomy denies it")

	pending := res.Queue.PendingFIFO()
	require.Len(t, pending, 1)
	_, err = res.Queue.Approve(pending[0].ID, "ops")
	require.NoError(t, err)

	// After approval, the Low tier's normal method order runs (not Manual).
	m, err := res.Resolve(context.Background(), "ccos.weather.get_forecast")
	require.NoError(t, err)
	assert.Equal(t, "ccos.weather.get_forecast", m.ID)
	assert.Equal(t, 1, registryHandler.calls)
}

func TestApprovalQueue_CheckTimeoutsExpiresStaleRequests(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	q := resolver.NewApprovalQueue().WithClock(func() time.Time { return clock })

	req := q.Enqueue(resolver.CategoryEffectApproval, "cap.y", nil, "desc", "", resolver.RiskAssessment{}, time.Hour, nil)
	clock = base.Add(2 * time.Hour)

	expired := q.CheckTimeouts()
	require.Len(t, expired, 1)
	assert.Equal(t, req.ID, expired[0].ID)
	assert.Equal(t, resolver.ApprovalExpired, expired[0].Status)
}
