// Package paramwriter implements T3, the push/pull parameter-write
// ingestion and typed-write pipeline.
package paramwriter

import (
	"context"
	"fmt"

	"github.com/albaraazain/ald-control-plane/internal/paramcache"
	"github.com/albaraazain/ald-control-plane/internal/plc"
	"github.com/albaraazain/ald-control-plane/internal/store"
)

// writeTarget is the resolved address/data-type pair a command ultimately
// writes to, however it was selected.
type writeTarget struct {
	addr uint16
	dt   plc.DataType
	path string // raw|id|name|degraded, for logging/metrics
}

// selectTarget implements T3's write-path precedence: raw-address override,
// then id lookup, then name lookup. A degraded fallback (path 4) is tried
// separately by the caller only after a resolved id/name target's write
// fails at the transport level.
func selectTarget(cache *paramcache.Cache, cmd store.ParameterControlCommand) (writeTarget, error) {
	if cmd.RawAddress != nil && cmd.RawDataType != nil {
		return writeTarget{
			addr: uint16(*cmd.RawAddress),
			dt:   parseRawDataType(*cmd.RawDataType),
			path: "raw",
		}, nil
	}

	if cmd.ParameterID != nil {
		p, err := cache.GetByID(*cmd.ParameterID)
		if err != nil {
			return writeTarget{}, fmt.Errorf("id lookup %s: %w", *cmd.ParameterID, err)
		}
		if p.WriteAddr == nil {
			return writeTarget{}, fmt.Errorf("parameter %s has no write address", *cmd.ParameterID)
		}
		return writeTarget{addr: p.WriteAddr.Addr, dt: p.DataType, path: "id"}, nil
	}

	if cmd.ParameterName != nil {
		p, err := cache.GetByName(*cmd.ParameterName)
		if err != nil {
			return writeTarget{}, fmt.Errorf("name lookup %s: %w", *cmd.ParameterName, err)
		}
		if p.WriteAddr == nil {
			return writeTarget{}, fmt.Errorf("parameter %s has no write address", *cmd.ParameterName)
		}
		return writeTarget{addr: p.WriteAddr.Addr, dt: p.DataType, path: "name"}, nil
	}

	return writeTarget{}, fmt.Errorf("command specifies no raw address, parameter id, or parameter name")
}

// degradedFallback resolves a direct write_modbus_address for a command
// whose id/name-resolved write already failed at the transport level, the
// fourth write-path tier.
func degradedFallback(cmd store.ParameterControlCommand) (writeTarget, bool) {
	if cmd.RawAddress == nil || cmd.RawDataType == nil {
		return writeTarget{}, false
	}
	return writeTarget{addr: uint16(*cmd.RawAddress), dt: parseRawDataType(*cmd.RawDataType), path: "degraded"}, true
}

func parseRawDataType(s string) plc.DataType {
	switch s {
	case "int32":
		return plc.DataTypeInt32
	case "int16":
		return plc.DataTypeInt16
	case "binary", "bool", "coil":
		return plc.DataTypeBool
	default:
		return plc.DataTypeFloat
	}
}

// performWrite issues the typed write for target and, on a transport-level
// failure for an id/name-resolved target, tries the degraded raw-address
// fallback once before giving up.
func performWrite(ctx context.Context, adapter plc.Adapter, cmd store.ParameterControlCommand, target writeTarget) error {
	err := plc.TypedWrite(ctx, adapter, target.addr, target.dt, cmd.TargetValue)
	if err == nil {
		return nil
	}
	if target.path == "raw" || target.path == "degraded" {
		return err
	}
	if fallback, ok := degradedFallback(cmd); ok {
		return plc.TypedWrite(ctx, adapter, fallback.addr, fallback.dt, cmd.TargetValue)
	}
	return err
}
