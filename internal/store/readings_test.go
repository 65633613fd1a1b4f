package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdent_WrapsInDoubleQuotes(t *testing.T) {
	assert.Equal(t, `"temp_zone_1"`, quoteIdent("temp_zone_1"))
}

func TestQuoteIdent_EscapesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `"weird""column"`, quoteIdent(`weird"column`))
}
