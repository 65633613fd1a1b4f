package paramwriter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albaraazain/ald-control-plane/internal/paramcache"
	"github.com/albaraazain/ald-control-plane/internal/plc"
	"github.com/albaraazain/ald-control-plane/internal/store"
)

func intptr(i int) *int          { return &i }
func strp(s string) *string      { return &s }

func TestSelectTarget_RawAddressOverridesEverything(t *testing.T) {
	cache := paramcache.New()
	id := "some-id"
	cmd := store.ParameterControlCommand{
		ParameterID: &id,
		RawAddress:  intptr(50),
		RawDataType: strp("float"),
	}

	target, err := selectTarget(cache, cmd)
	require.NoError(t, err)
	assert.Equal(t, "raw", target.path)
	assert.Equal(t, uint16(50), target.addr)
	assert.Equal(t, plc.DataTypeFloat, target.dt)
}

func TestSelectTarget_FallsBackToIDLookup(t *testing.T) {
	cache := paramcache.New()
	addr := plc.Address{Kind: plc.RegisterHolding, Addr: 11}
	cache.Load([]paramcache.Parameter{{ID: "p1", WriteAddr: &addr, DataType: plc.DataTypeInt32}})

	cmd := store.ParameterControlCommand{ParameterID: strp("p1")}
	target, err := selectTarget(cache, cmd)
	require.NoError(t, err)
	assert.Equal(t, "id", target.path)
	assert.Equal(t, uint16(11), target.addr)
}

func TestSelectTarget_FallsBackToNameLookup(t *testing.T) {
	cache := paramcache.New()
	addr := plc.Address{Kind: plc.RegisterHolding, Addr: 22}
	cache.Load([]paramcache.Parameter{{ID: "p2", Name: "flow_ar", WriteAddr: &addr, DataType: plc.DataTypeFloat}})

	cmd := store.ParameterControlCommand{ParameterName: strp("flow_ar")}
	target, err := selectTarget(cache, cmd)
	require.NoError(t, err)
	assert.Equal(t, "name", target.path)
}

func TestSelectTarget_ErrorsWhenNothingResolvable(t *testing.T) {
	cache := paramcache.New()
	_, err := selectTarget(cache, store.ParameterControlCommand{})
	assert.Error(t, err)
}

func TestSelectTarget_ErrorsWhenParameterHasNoWriteAddress(t *testing.T) {
	cache := paramcache.New()
	cache.Load([]paramcache.Parameter{{ID: "p3"}})
	_, err := selectTarget(cache, store.ParameterControlCommand{ParameterID: strp("p3")})
	assert.Error(t, err)
}

func TestDegradedFallback_OnlyAvailableWithRawAddress(t *testing.T) {
	_, ok := degradedFallback(store.ParameterControlCommand{})
	assert.False(t, ok)

	target, ok := degradedFallback(store.ParameterControlCommand{RawAddress: intptr(99), RawDataType: strp("int16")})
	require.True(t, ok)
	assert.Equal(t, "degraded", target.path)
	assert.Equal(t, plc.DataTypeInt16, target.dt)
}

func TestPerformWrite_FallsBackToDegradedAfterIDWriteFails(t *testing.T) {
	sim := plc.NewSimulationBackend()
	// not connected: every write fails at the transport level.
	cmd := store.ParameterControlCommand{
		RawAddress:  intptr(77),
		RawDataType: strp("float"),
		TargetValue: 3.5,
	}
	target := writeTarget{addr: 1, dt: plc.DataTypeFloat, path: "id"}

	err := performWrite(context.Background(), sim, cmd, target)
	assert.Error(t, err, "degraded fallback still fails while disconnected, but it must have been attempted")
}

func TestPerformWrite_SucceedsDirectlyWhenConnected(t *testing.T) {
	sim := plc.NewSimulationBackend()
	require.NoError(t, sim.Connect(context.Background()))
	cmd := store.ParameterControlCommand{TargetValue: 12}
	target := writeTarget{addr: 5, dt: plc.DataTypeFloat, path: "id"}

	err := performWrite(context.Background(), sim, cmd, target)
	require.NoError(t, err)

	v, err := sim.ReadParameter(context.Background(), plc.Address{Kind: plc.RegisterHolding, Addr: 5}, plc.DataTypeFloat)
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)
}

func TestPerformWrite_NeverRetriesFallbackForRawOrDegradedPaths(t *testing.T) {
	sim := plc.NewSimulationBackend() // disconnected
	cmd := store.ParameterControlCommand{RawAddress: intptr(1), RawDataType: strp("float")}

	rawTarget := writeTarget{addr: 1, dt: plc.DataTypeFloat, path: "raw"}
	err := performWrite(context.Background(), sim, cmd, rawTarget)
	assert.Error(t, err)

	degradedTarget := writeTarget{addr: 1, dt: plc.DataTypeFloat, path: "degraded"}
	err = performWrite(context.Background(), sim, cmd, degradedTarget)
	assert.Error(t, err)
}

func TestParseRawDataType(t *testing.T) {
	assert.Equal(t, plc.DataTypeInt32, parseRawDataType("int32"))
	assert.Equal(t, plc.DataTypeInt16, parseRawDataType("int16"))
	assert.Equal(t, plc.DataTypeBool, parseRawDataType("coil"))
	assert.Equal(t, plc.DataTypeFloat, parseRawDataType("anything-else"))
}
