package chain_test

import (
	"testing"

	"github.com/ccos-run/ccos/pkg/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_AppendAssignsHashChain(t *testing.T) {
	c := chain.New()

	id1, err := c.Append(chain.Action{Kind: chain.KindCapabilityCall, CapabilityName: "fs.read"})
	require.NoError(t, err)
	id2, err := c.Append(chain.Action{Kind: chain.KindCapabilityCall, CapabilityName: "fs.write"})
	require.NoError(t, err)

	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)

	actions := c.GetAllActions()
	require.Len(t, actions, 2)
	assert.Empty(t, actions[0].PrevHash)
	assert.Equal(t, actions[0].Hash, actions[1].PrevHash)
	assert.NotEmpty(t, actions[0].Hash)
	assert.NotEqual(t, actions[0].Hash, actions[1].Hash)
}

func TestChain_RecordResultUpdatesMetrics(t *testing.T) {
	c := chain.New()
	pending, err := c.Append(chain.Action{Kind: chain.KindCapabilityCall, CapabilityName: "fs.read"})
	require.NoError(t, err)

	_, err = c.RecordResult(pending, "fs.read", chain.Result{Success: true, Value: "ok"})
	require.NoError(t, err)
	_, err = c.RecordResult(pending, "fs.read", chain.Result{Success: false})
	require.NoError(t, err)

	m := c.GetFunctionMetrics("fs.read")
	assert.Equal(t, int64(2), m.Calls)
	assert.Equal(t, int64(1), m.Successes)
	assert.Equal(t, int64(1), m.Failures)
}

func TestChain_RecentLogs(t *testing.T) {
	c := chain.New()
	for i := 0; i < 5; i++ {
		_, err := c.Append(chain.Action{Kind: chain.KindStepStarted})
		require.NoError(t, err)
	}
	assert.Len(t, c.RecentLogs(3), 3)
	assert.Len(t, c.RecentLogs(100), 5)
	assert.Nil(t, c.RecentLogs(0))
}

func TestChain_VerifyDetectsTamper(t *testing.T) {
	c := chain.New()
	_, err := c.Append(chain.Action{Kind: chain.KindCapabilityCall, CapabilityName: "fs.read"})
	require.NoError(t, err)
	_, err = c.Append(chain.Action{Kind: chain.KindCapabilityCall, CapabilityName: "fs.write"})
	require.NoError(t, err)

	require.NoError(t, c.Verify())
}

func TestChain_GetAllActionsReturnsClone(t *testing.T) {
	c := chain.New()
	_, err := c.Append(chain.Action{Kind: chain.KindCapabilityCall, CapabilityName: "fs.read"})
	require.NoError(t, err)

	snapshot := c.GetAllActions()
	snapshot[0].CapabilityName = "mutated"

	fresh := c.GetAllActions()
	assert.Equal(t, "fs.read", fresh[0].CapabilityName)
}

func TestChain_RecordDelegationEvent(t *testing.T) {
	c := chain.New()
	id, err := c.RecordDelegationEvent("plan-1", "agent-a", "agent-b", "specialization")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	actions := c.GetAllActions()
	require.Len(t, actions, 1)
	assert.Equal(t, chain.KindDelegationEvent, actions[0].Kind)
	assert.Equal(t, "agent-b", actions[0].Metadata["to_agent"])
}
