// Package plc defines the uniform transport adapter every terminal depends
// on. No terminal parses Modbus frames directly; they only ever see the
// Adapter interface, which is satisfied by either a real TCP-based backend
// or an in-process simulation.
package plc

import (
	"context"
	"errors"
	"time"
)

// RegisterKind distinguishes the two addressable storage kinds on the
// device: a single bit (coil) versus a 16-bit holding register, two of
// which combine (big-endian, high word first) to carry a 32-bit value.
type RegisterKind int

const (
	RegisterCoil RegisterKind = iota
	RegisterHolding
)

// DataType is the declared shape of a parameter's value.
type DataType int

const (
	DataTypeFloat DataType = iota
	DataTypeInt32
	DataTypeInt16
	DataTypeBool
)

// Address fully qualifies one transport-level location: a register kind
// plus its numeric address. For holding registers carrying int32/float
// values, Address is the low (first) of the register pair.
type Address struct {
	Kind RegisterKind
	Addr uint16
}

// Errors surfaced by adapter operations, matching SPEC_FULL §4.1.
var (
	ErrConnectFailed   = errors.New("plc: connect failed")
	ErrNotConnected    = errors.New("plc: not connected")
	ErrTransportTimeout = errors.New("plc: transport timeout")
	ErrInvalidAddress  = errors.New("plc: invalid address")
	ErrTypeMismatch    = errors.New("plc: type mismatch")
)

// Adapter is the transport abstraction consumed by every terminal.
//
// A single Adapter instance serializes concurrent access to its underlying
// transport: reads and writes are atomic with respect to each other from
// the caller's point of view, though the adapter does not coordinate
// *across* terminals — see SPEC_FULL §5 for the shared-PLC policy.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Reconnect(ctx context.Context) error

	ReadParameter(ctx context.Context, addr Address, dt DataType) (float64, error)
	ReadAllParameters(ctx context.Context, addrs map[string]Address, dts map[string]DataType) (map[string]float64, error)
	ReadSetpoint(ctx context.Context, addr Address, dt DataType) (float64, error)
	ReadAllSetpoints(ctx context.Context, addrs map[string]Address, dts map[string]DataType) (map[string]float64, error)

	WriteFloat(ctx context.Context, addr uint16, v float32) error
	WriteInt32(ctx context.Context, addr uint16, v int32) error
	WriteInt16(ctx context.Context, addr uint16, v int16) error
	WriteCoil(ctx context.Context, addr uint16, v bool) error
}

// TypedWrite dispatches to the right typed write given a value and its
// declared data type, implementing the type-mapping rules of SPEC_FULL
// §4.5: binary parameters use the coil path, whole-valued floats targeting
// an integer parameter use the int32 path, everything else uses float.
func TypedWrite(ctx context.Context, a Adapter, addr uint16, dt DataType, value float64) error {
	switch dt {
	case DataTypeBool:
		return a.WriteCoil(ctx, addr, value != 0)
	case DataTypeInt32:
		return a.WriteInt32(ctx, addr, int32(value))
	case DataTypeInt16:
		return a.WriteInt16(ctx, addr, int16(value))
	default:
		return a.WriteFloat(ctx, addr, float32(value))
	}
}

// BackoffSchedule is the bounded reconnect backoff used by Reconnect
// implementations: a short initial delay doubling up to a ceiling.
func BackoffSchedule(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	return d
}
