package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsStandardExpression(t *testing.T) {
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.NoError(t, Validate("0 9 * * 1-5"))
}

func TestValidateRejectsMalformedExpression(t *testing.T) {
	assert.Error(t, Validate("not a cron expression"))
	assert.Error(t, Validate("* * * *"))
}
