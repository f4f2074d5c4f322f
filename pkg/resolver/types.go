package resolver

import (
	"time"

	"github.com/ccos-run/ccos/pkg/budget"
)

// Method is one discovery method the continuous loop can try for a missing
// capability, per spec.md §4.H.2.
type Method string

const (
	MethodMCPRegistry   Method = "McpRegistry"
	MethodOpenAPIImport Method = "OpenApiImport"
	MethodGraphQLImport Method = "GraphQLImport"
	MethodHTTPWrapper   Method = "HttpWrapper"
	MethodLLMSynthesis  Method = "LlmSynthesis"
	MethodWebSearch     Method = "WebSearch"
	MethodManual        Method = "Manual"
)

// methodOrders maps a risk level to its ordered discovery methods, per
// spec.md §4.H.2: Low tries every automated method before Manual; Medium
// skips WebSearch; High/Critical skip straight to Manual (which always
// requires human action, so no automated method runs unattended for them).
var methodOrders = map[budget.RiskLevel][]Method{
	budget.RiskLow:      {MethodMCPRegistry, MethodOpenAPIImport, MethodGraphQLImport, MethodHTTPWrapper, MethodLLMSynthesis, MethodWebSearch, MethodManual},
	budget.RiskMedium:   {MethodMCPRegistry, MethodOpenAPIImport, MethodGraphQLImport, MethodHTTPWrapper, MethodManual},
	budget.RiskHigh:     {MethodManual},
	budget.RiskCritical: {MethodManual},
}

// MethodOrderFor returns the ordered discovery methods for level.
func MethodOrderFor(level budget.RiskLevel) []Method {
	order, ok := methodOrders[level]
	if !ok {
		return []Method{MethodManual}
	}
	out := make([]Method, len(order))
	copy(out, order)
	return out
}

// ResolutionAttempt records one method attempt against a capability id, per
// spec.md's ResolutionAttempt type. attempt_count is monotonically
// increasing per capability across the whole history, not per method.
type ResolutionAttempt struct {
	CapabilityID string    `json:"capability_id"`
	AttemptedAt  time.Time `json:"attempted_at"`
	AttemptCount int       `json:"attempt_count"`
	Method       Method    `json:"method"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
}

// ApprovalCategory discriminates ApprovalRequest's tagged-union category.
type ApprovalCategory string

const (
	CategoryEffectApproval ApprovalCategory = "EffectApproval"
	CategorySecretRequired ApprovalCategory = "SecretRequired"
)

// ApprovalStatus is the lifecycle state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "Pending"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
	ApprovalExpired  ApprovalStatus = "Expired"
)

// ApprovalRequest is spec.md's human-in-the-loop gate type. Only the fields
// matching Category are meaningful (EffectApproval vs SecretRequired).
type ApprovalRequest struct {
	ID       string
	Category ApprovalCategory

	// EffectApproval
	CapabilityID string
	Effects      []string
	Description  string

	// SecretRequired
	SecretType string

	Risk RiskAssessment
	TTL  time.Duration

	Context map[string]interface{}

	Status     ApprovalStatus
	CreatedAt  time.Time
	Deadline   time.Time
	ApprovedBy string
	RejectedBy string
	RejectReason string
}

// Expired reports whether the request's deadline has passed as of now, for a
// request still Pending.
func (r *ApprovalRequest) Expired(now time.Time) bool {
	return r.Status == ApprovalPending && now.After(r.Deadline)
}
