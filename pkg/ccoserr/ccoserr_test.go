package ccoserr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/stretchr/testify/assert"
)

func TestError_Category(t *testing.T) {
	cases := map[ccoserr.Kind]ccoserr.Category{
		ccoserr.KindSecurityViolation: ccoserr.CategoryGovernance,
		ccoserr.KindBudgetExhausted:   ccoserr.CategoryGovernance,
		ccoserr.KindApproval:          ccoserr.CategoryGovernance,
		ccoserr.KindMissing:           ccoserr.CategoryResolution,
		ccoserr.KindSynthesis:         ccoserr.CategoryResolution,
		ccoserr.KindProtocol:          ccoserr.CategoryProtocol,
		ccoserr.KindSchema:            ccoserr.CategoryProtocol,
		ccoserr.KindNetwork:           ccoserr.CategoryProtocol,
		ccoserr.KindLockPoisoned:      ccoserr.CategoryFault,
		ccoserr.KindInternal:          ccoserr.CategoryFault,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Category(), "kind %s", kind)
	}
}

func TestError_WrapAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := ccoserr.Wrap(ccoserr.KindNetwork, "mcp server unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "NETWORK")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKindOf_UnwrapsWrappedError(t *testing.T) {
	base := ccoserr.New(ccoserr.KindBudgetExhausted, "calls budget exceeded")
	wrapped := fmt.Errorf("executing capability: %w", base)

	assert.Equal(t, ccoserr.KindBudgetExhausted, ccoserr.KindOf(wrapped))
}

func TestKindOf_DefaultsToInternalForUnclassified(t *testing.T) {
	assert.Equal(t, ccoserr.KindInternal, ccoserr.KindOf(errors.New("boom")))
}
