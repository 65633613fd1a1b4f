package paramwriter

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albaraazain/ald-control-plane/internal/plc"
)

func testLogger() (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(l), &buf
}

func TestVerify_NoLogOnMatch(t *testing.T) {
	sim := plc.NewSimulationBackend()
	require.NoError(t, sim.Connect(context.Background()))
	require.NoError(t, sim.WriteFloat(context.Background(), 9, 42))

	log, buf := testLogger()
	verify(context.Background(), sim, log, writeTarget{addr: 9, dt: plc.DataTypeFloat}, 42)
	assert.NotContains(t, buf.String(), "mismatch")
}

func TestVerify_LogsOnMismatchWithoutReturningError(t *testing.T) {
	sim := plc.NewSimulationBackend()
	require.NoError(t, sim.Connect(context.Background()))
	require.NoError(t, sim.WriteFloat(context.Background(), 9, 42))

	log, buf := testLogger()
	verify(context.Background(), sim, log, writeTarget{addr: 9, dt: plc.DataTypeFloat}, 99)
	assert.Contains(t, buf.String(), "mismatch")
}

func TestVerify_ToleratesSmallFloatDrift(t *testing.T) {
	sim := plc.NewSimulationBackend()
	require.NoError(t, sim.Connect(context.Background()))
	require.NoError(t, sim.WriteFloat(context.Background(), 3, 10.004))

	log, buf := testLogger()
	verify(context.Background(), sim, log, writeTarget{addr: 3, dt: plc.DataTypeFloat}, 10.0)
	assert.NotContains(t, buf.String(), "mismatch")
}

func TestVerify_NoLogOnBoolMatch(t *testing.T) {
	sim := plc.NewSimulationBackend()
	require.NoError(t, sim.Connect(context.Background()))
	require.NoError(t, sim.WriteCoil(context.Background(), 6, true))

	log, buf := testLogger()
	verify(context.Background(), sim, log, writeTarget{addr: 6, dt: plc.DataTypeBool}, 1)
	assert.NotContains(t, buf.String(), "mismatch")
}
