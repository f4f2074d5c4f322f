package resolver_test

import (
	"testing"
	"time"

	"github.com/ccos-run/ccos/pkg/identity"
	"github.com/ccos-run/ccos/pkg/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalQueue_ApproveAsRecordsIdentityEmail(t *testing.T) {
	q := resolver.NewApprovalQueue()
	req := q.Enqueue(resolver.CategoryEffectApproval, "cap.z", nil, "desc", "", resolver.RiskAssessment{}, time.Hour, nil)

	approved, err := q.ApproveAs(req.ID, &identity.IdentityToken{Subject: "u-1", Email: "ops@example.com"})
	require.NoError(t, err)
	assert.Equal(t, resolver.ApprovalApproved, approved.Status)
	assert.Equal(t, "ops@example.com", approved.ApprovedBy)
}

func TestApprovalQueue_RejectAsFallsBackToSubjectWithoutEmail(t *testing.T) {
	q := resolver.NewApprovalQueue()
	req := q.Enqueue(resolver.CategoryEffectApproval, "cap.z", nil, "desc", "", resolver.RiskAssessment{}, time.Hour, nil)

	rejected, err := q.RejectAs(req.ID, &identity.IdentityToken{Subject: "u-2"}, "not authorized")
	require.NoError(t, err)
	assert.Equal(t, resolver.ApprovalRejected, rejected.Status)
	assert.Equal(t, "u-2", rejected.RejectedBy)
}
