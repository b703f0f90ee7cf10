package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, classifyRateLimited, classify("X rate limit Y"))
	assert.Equal(t, classifyRateLimited, classify("you have hit the ACTION LIMIT for this hour"))
	assert.Equal(t, classifyRateLimited, classify("too many requests, slow down"))
	assert.Equal(t, classifyApprovalDenied, classify("requires approval"))
	assert.Equal(t, classifyApprovalDenied, classify("Approval Denied by operator"))
	assert.Equal(t, classifyNone, classify("some arbitrary other text"))
}
