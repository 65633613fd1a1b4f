package plc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationBackend_ClampsWritesToBounds(t *testing.T) {
	ctx := context.Background()
	s := NewSimulationBackend()
	require.NoError(t, s.Connect(ctx))
	s.SetBounds(10, Bounds{HasMin: true, Min: 0, HasMax: true, Max: 100})

	require.NoError(t, s.WriteFloat(ctx, 10, 150))
	v, err := s.ReadParameter(ctx, Address{Kind: RegisterHolding, Addr: 10}, DataTypeFloat)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	require.NoError(t, s.WriteFloat(ctx, 10, -50))
	v, err = s.ReadParameter(ctx, Address{Kind: RegisterHolding, Addr: 10}, DataTypeFloat)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestSimulationBackend_UnboundedAddressPassesThrough(t *testing.T) {
	ctx := context.Background()
	s := NewSimulationBackend()
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, s.WriteFloat(ctx, 20, 12345))
	v, err := s.ReadParameter(ctx, Address{Kind: RegisterHolding, Addr: 20}, DataTypeFloat)
	require.NoError(t, err)
	assert.Equal(t, 12345.0, v)
}

func TestSimulationBackend_WritesFailWhenNotConnected(t *testing.T) {
	s := NewSimulationBackend()
	err := s.WriteFloat(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSimulationBackend_CoilRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSimulationBackend()
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, s.WriteCoil(ctx, 5, true))
	v, err := s.ReadParameter(ctx, Address{Kind: RegisterCoil, Addr: 5}, DataTypeBool)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	require.NoError(t, s.WriteCoil(ctx, 5, false))
	v, err = s.ReadParameter(ctx, Address{Kind: RegisterCoil, Addr: 5}, DataTypeBool)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestSimulationBackend_ReadAllParametersAggregates(t *testing.T) {
	ctx := context.Background()
	s := NewSimulationBackend()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.WriteFloat(ctx, 1, 11))
	require.NoError(t, s.WriteFloat(ctx, 2, 22))

	addrs := map[string]Address{
		"a": {Kind: RegisterHolding, Addr: 1},
		"b": {Kind: RegisterHolding, Addr: 2},
	}
	dts := map[string]DataType{"a": DataTypeFloat, "b": DataTypeFloat}

	values, err := s.ReadAllParameters(ctx, addrs, dts)
	require.NoError(t, err)
	assert.Equal(t, 11.0, values["a"])
	assert.Equal(t, 22.0, values["b"])
}

func TestTypedWrite_DispatchesByDataType(t *testing.T) {
	ctx := context.Background()
	s := NewSimulationBackend()
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, TypedWrite(ctx, s, 30, DataTypeBool, 1))
	v, err := s.ReadParameter(ctx, Address{Kind: RegisterCoil, Addr: 30}, DataTypeBool)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	require.NoError(t, TypedWrite(ctx, s, 31, DataTypeInt32, 42))
	v, err = s.ReadParameter(ctx, Address{Kind: RegisterHolding, Addr: 31}, DataTypeInt32)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}
