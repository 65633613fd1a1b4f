// Package paramcache holds the in-memory parameter metadata catalog loaded
// once at terminal startup. It is never refreshed at runtime — SPEC_FULL
// §9 flags this as a known staleness risk rather than something this
// implementation works around.
package paramcache

import (
	"errors"
	"sync"

	"github.com/albaraazain/ald-control-plane/internal/plc"
)

// ErrNotFound is returned when a lookup by id or name matches nothing.
var ErrNotFound = errors.New("paramcache: parameter not found")

// ErrAmbiguous is returned by GetByName when more than one parameter shares
// a name and none of the candidates is writable (so the precedence rule in
// SPEC_FULL §4.2 cannot break the tie).
var ErrAmbiguous = errors.New("paramcache: ambiguous parameter name")

// Parameter is the identity of one controllable or observable quantity.
type Parameter struct {
	ID         string
	Name       string
	ComponentID string
	ColumnName string // stable wide-row column name
	DataType   plc.DataType

	ReadAddr  *plc.Address
	WriteAddr *plc.Address

	Writable bool
	MinValue *float64
	MaxValue *float64
}

// Bounds converts MinValue/MaxValue into a plc.Bounds value for wiring into
// the simulation backend's clamp table.
func (p Parameter) Bounds() plc.Bounds {
	b := plc.Bounds{}
	if p.MinValue != nil {
		b.HasMin, b.Min = true, *p.MinValue
	}
	if p.MaxValue != nil {
		b.HasMax, b.Max = true, *p.MaxValue
	}
	return b
}

// Cache is an O(1) lookup by id and by name, loaded once at startup.
type Cache struct {
	mu       sync.RWMutex
	byID     map[string]Parameter
	byName   map[string][]Parameter
}

// New builds an empty cache; Load populates it.
func New() *Cache {
	return &Cache{
		byID:   make(map[string]Parameter),
		byName: make(map[string][]Parameter),
	}
}

// Load replaces the cache contents with params. A load failure upstream
// (e.g. the database query that produced params) is the caller's concern;
// Load itself cannot fail — an empty slice simply yields an empty cache,
// matching the "terminal logs and continues" failure semantics of §4.2.
func (c *Cache) Load(params []Parameter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = make(map[string]Parameter, len(params))
	c.byName = make(map[string][]Parameter, len(params))
	for _, p := range params {
		c.byID[p.ID] = p
		c.byName[p.Name] = append(c.byName[p.Name], p)
	}
}

// GetByID returns the parameter for id, or ErrNotFound.
func (c *Cache) GetByID(id string) (Parameter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	if !ok {
		return Parameter{}, ErrNotFound
	}
	return p, nil
}

// GetByName resolves a parameter by name, preferring a writable candidate
// when more than one parameter shares the name. If there are multiple
// candidates and none is writable, the lookup is ambiguous.
func (c *Cache) GetByName(name string) (Parameter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	candidates, ok := c.byName[name]
	if !ok || len(candidates) == 0 {
		return Parameter{}, ErrNotFound
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	for _, p := range candidates {
		if p.Writable {
			return p, nil
		}
	}
	return Parameter{}, ErrAmbiguous
}

// WritableIDs returns every parameter id with Writable set, used by T1 to
// decide which parameters participate in setpoint reconciliation.
func (c *Cache) WritableIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.byID))
	for id, p := range c.byID {
		if p.Writable {
			ids = append(ids, id)
		}
	}
	return ids
}

// ColumnName returns the wide-row column name for id, or "" if unknown.
func (c *Cache) ColumnName(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[id].ColumnName
}

// ReadAddresses returns the read-address/data-type maps T1 needs for
// ReadAllParameters, keyed by parameter id, skipping parameters with no
// read address per the §3 invariant ("a Parameter with no read address is
// never sampled").
func (c *Cache) ReadAddresses() (map[string]plc.Address, map[string]plc.DataType) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addrs := make(map[string]plc.Address)
	dts := make(map[string]plc.DataType)
	for id, p := range c.byID {
		if p.ReadAddr != nil {
			addrs[id] = *p.ReadAddr
			dts[id] = p.DataType
		}
	}
	return addrs, dts
}

// WriteAddresses returns read-back addresses for every writable parameter's
// *write* address, used by T1's setpoint reconciliation pass.
func (c *Cache) WriteAddresses() (map[string]plc.Address, map[string]plc.DataType) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addrs := make(map[string]plc.Address)
	dts := make(map[string]plc.DataType)
	for id, p := range c.byID {
		if p.Writable && p.WriteAddr != nil {
			addrs[id] = *p.WriteAddr
			dts[id] = p.DataType
		}
	}
	return addrs, dts
}

// Len reports how many parameters are currently loaded.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
