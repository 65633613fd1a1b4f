package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputSplitter_WriteReturnsLength(t *testing.T) {
	splitter := OutputSplitter{}
	tests := []struct {
		name    string
		message []byte
	}{
		{"short", []byte("hello")},
		{"withLevel", []byte(`level=info msg="started"`)},
		{"empty", []byte("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := splitter.Write(tt.message)
			assert.NoError(t, err)
			assert.Equal(t, len(tt.message), n)
		})
	}
}

func TestNew_DefaultsToInfoOnInvalidLevel(t *testing.T) {
	l := New(Config{Level: "not-a-level", Format: "json", Machine: "m1", Role: "sampler"})
	assert.Equal(t, "info", l.raw.GetLevel().String())
}

func TestNew_StampsBaseFields(t *testing.T) {
	l := New(Config{Level: "debug", Format: "json", Machine: "m1", Role: "executor"})
	entry := l.Base()
	assert.Equal(t, "m1", entry.Data["machine_id"])
	assert.Equal(t, "executor", entry.Data["terminal_role"])
}

func TestWithFields_ExtendsBaseFields(t *testing.T) {
	l := New(Config{Level: "debug", Format: "json", Machine: "m1", Role: "executor"})
	entry := l.WithFields(map[string]interface{}{"recipe_id": "r1"})
	assert.Equal(t, "m1", entry.Data["machine_id"])
	assert.Equal(t, "r1", entry.Data["recipe_id"])
}

func TestWithProcess_AttachesProcessFields(t *testing.T) {
	l := New(Config{Level: "debug", Format: "json"})
	entry := l.WithProcess("exec-1", 3)
	assert.Equal(t, "exec-1", entry.Data["process_id"])
	assert.Equal(t, 3, entry.Data["step_sequence"])
}

func TestFromContext_FallsBackWhenUnset(t *testing.T) {
	l := FromContext(context.Background())
	assert.NotNil(t, l)
}

func TestWithContext_RoundTrips(t *testing.T) {
	l := New(Config{Level: "debug", Format: "json", Machine: "m2"})
	ctx := WithContext(context.Background(), l)
	got := FromContext(ctx)
	assert.Equal(t, "m2", got.Base().Data["machine_id"])
}
