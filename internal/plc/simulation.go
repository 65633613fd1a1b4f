package plc

import (
	"context"
	"math"
	"sync"
)

// Bounds declares the clamp range the simulation backend enforces on a
// write. The real backend intentionally performs no clamping — SPEC_FULL
// §9 documents this as a deliberate asymmetry, not an oversight.
type Bounds struct {
	Min, Max float64
	HasMin   bool
	HasMax   bool
}

func (b Bounds) clamp(v float64) float64 {
	if b.HasMin && v < b.Min {
		return b.Min
	}
	if b.HasMax && v > b.Max {
		return b.Max
	}
	return v
}

// SimulationBackend is an in-process stand-in for the real device. It
// exposes the exact operation set of Adapter and clamps writes to declared
// bounds, matching the behavior the real backend deliberately omits.
type SimulationBackend struct {
	mu        sync.Mutex
	connected bool

	coils    map[uint16]bool
	holdings map[uint16]float64 // logical register-pair value keyed by low address
	bounds   map[uint16]Bounds  // keyed by write address
}

// NewSimulationBackend constructs an empty simulated device. Bounds may be
// registered per write address via SetBounds before any write occurs.
func NewSimulationBackend() *SimulationBackend {
	return &SimulationBackend{
		coils:    make(map[uint16]bool),
		holdings: make(map[uint16]float64),
		bounds:   make(map[uint16]Bounds),
	}
}

// SetBounds registers clamp bounds for a write address.
func (s *SimulationBackend) SetBounds(addr uint16, b Bounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounds[addr] = b
}

func (s *SimulationBackend) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *SimulationBackend) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *SimulationBackend) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SimulationBackend) Reconnect(ctx context.Context) error {
	return s.Connect(ctx)
}

func (s *SimulationBackend) readValue(addr Address) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, ErrNotConnected
	}
	switch addr.Kind {
	case RegisterCoil:
		if s.coils[addr.Addr] {
			return 1, nil
		}
		return 0, nil
	default:
		return s.holdings[addr.Addr], nil
	}
}

func (s *SimulationBackend) ReadParameter(ctx context.Context, addr Address, dt DataType) (float64, error) {
	return s.readValue(addr)
}

func (s *SimulationBackend) ReadAllParameters(ctx context.Context, addrs map[string]Address, dts map[string]DataType) (map[string]float64, error) {
	out := make(map[string]float64, len(addrs))
	for id, addr := range addrs {
		v, err := s.readValue(addr)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

func (s *SimulationBackend) ReadSetpoint(ctx context.Context, addr Address, dt DataType) (float64, error) {
	return s.readValue(addr)
}

func (s *SimulationBackend) ReadAllSetpoints(ctx context.Context, addrs map[string]Address, dts map[string]DataType) (map[string]float64, error) {
	return s.ReadAllParameters(ctx, addrs, dts)
}

func (s *SimulationBackend) writeHolding(addr uint16, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrTypeMismatch
	}
	if b, ok := s.bounds[addr]; ok {
		v = b.clamp(v)
	}
	s.holdings[addr] = v
	return nil
}

func (s *SimulationBackend) WriteFloat(ctx context.Context, addr uint16, v float32) error {
	return s.writeHolding(addr, float64(v))
}

func (s *SimulationBackend) WriteInt32(ctx context.Context, addr uint16, v int32) error {
	return s.writeHolding(addr, float64(v))
}

func (s *SimulationBackend) WriteInt16(ctx context.Context, addr uint16, v int16) error {
	return s.writeHolding(addr, float64(v))
}

func (s *SimulationBackend) WriteCoil(ctx context.Context, addr uint16, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.coils[addr] = v
	return nil
}

var _ Adapter = (*SimulationBackend)(nil)
