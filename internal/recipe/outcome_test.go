package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeHelpers(t *testing.T) {
	assert.Equal(t, OutcomeOK, ok().Kind)
	assert.Equal(t, OutcomeCancelled, cancelled().Kind)

	f := failed("boom")
	assert.Equal(t, OutcomeFailed, f.Kind)
	assert.Equal(t, "boom", f.Message)
}
