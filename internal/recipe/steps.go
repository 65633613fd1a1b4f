package recipe

import (
	"context"
	"fmt"
	"time"

	"github.com/albaraazain/ald-control-plane/internal/paramcache"
	"github.com/albaraazain/ald-control-plane/internal/plc"
	"github.com/albaraazain/ald-control-plane/internal/store"
)

// valveCoilBase is the per-valve-number coil address offset convention;
// valve N maps to coil address N, matching the device's fixed coil map
// for discrete on/off actuators.
const valveCoilBase = 0

// auditFunc records one PLC-affecting sub-operation (valve open, valve
// close, parameter write). The caller pre-fills the entry's identity
// fields (execution id, step id, sequence, loop iteration) via a closure;
// runValve/runParameter only ever set the sub-operation's own columns.
type auditFunc func(store.AuditEntry)

// runOp executes one linearized Op against the PLC, honoring ctx
// cancellation for the hold/purge sleep so a stop request interrupts a
// long dwell instead of waiting it out.
func runOp(ctx context.Context, adapter plc.Adapter, cache *paramcache.Cache, op Op, audit auditFunc) Outcome {
	switch op.Kind {
	case StepValve:
		return runValve(ctx, adapter, op, audit)
	case StepPurge:
		return runPurge(ctx, op)
	case StepParameter:
		return runParameter(ctx, adapter, cache, op, audit)
	default:
		return ok()
	}
}

func runValve(ctx context.Context, adapter plc.Adapter, op Op, audit auditFunc) Outcome {
	addr := uint16(valveCoilBase + op.ValveNumber)
	detail := fmt.Sprintf("valve %d", op.ValveNumber)

	openStart := time.Now()
	if err := adapter.WriteCoil(ctx, addr, true); err != nil {
		audit(store.AuditEntry{EventType: "valve_open", Detail: detail, PLCWriteStartedAt: &openStart, FinalStatus: "failed"})
		return failed(fmt.Sprintf("valve %d open: %v", op.ValveNumber, err))
	}
	openEnd := time.Now()
	audit(store.AuditEntry{
		EventType: "valve_open", Detail: detail,
		PLCWriteStartedAt: &openStart, PLCWriteEndedAt: &openEnd, OperationCompletedAt: &openEnd,
		FinalStatus: "ok",
	})

	if o := sleepOrCancel(ctx, time.Duration(op.DurationMs)*time.Millisecond); o.Kind != OutcomeOK {
		closeStart := time.Now()
		_ = adapter.WriteCoil(ctx, addr, false)
		closeEnd := time.Now()
		audit(store.AuditEntry{
			EventType: "valve_close", Detail: detail,
			PLCWriteStartedAt: &closeStart, PLCWriteEndedAt: &closeEnd, OperationCompletedAt: &closeEnd,
			FinalStatus: "cancelled",
		})
		return o
	}

	closeStart := time.Now()
	if err := adapter.WriteCoil(ctx, addr, false); err != nil {
		audit(store.AuditEntry{EventType: "valve_close", Detail: detail, PLCWriteStartedAt: &closeStart, FinalStatus: "failed"})
		return failed(fmt.Sprintf("valve %d close: %v", op.ValveNumber, err))
	}
	closeEnd := time.Now()
	audit(store.AuditEntry{
		EventType: "valve_close", Detail: detail,
		PLCWriteStartedAt: &closeStart, PLCWriteEndedAt: &closeEnd, OperationCompletedAt: &closeEnd,
		FinalStatus: "ok",
	})
	return ok()
}

// runPurge has no PLC-affecting write of its own — it's a timed dwell,
// matching the spec's accounting that purge steps contribute to step count
// and audit but not to the PLC-affecting operation count.
func runPurge(ctx context.Context, op Op) Outcome {
	return sleepOrCancel(ctx, time.Duration(op.DurationMs)*time.Millisecond)
}

func runParameter(ctx context.Context, adapter plc.Adapter, cache *paramcache.Cache, op Op, audit auditFunc) Outcome {
	p, err := cache.GetByID(op.ParameterID)
	if err != nil {
		return failed(fmt.Sprintf("unknown parameter %s: %v", op.ParameterID, err))
	}
	if !p.Writable || p.WriteAddr == nil {
		return failed(fmt.Sprintf("parameter %s is not writable", op.ParameterID))
	}

	target := op.TargetValue
	writeStart := time.Now()
	err = plc.TypedWrite(ctx, adapter, p.WriteAddr.Addr, p.DataType, op.TargetValue)
	writeEnd := time.Now()
	if err != nil {
		audit(store.AuditEntry{
			EventType: "parameter_write", ParameterName: p.Name, TargetValue: &target,
			PLCWriteStartedAt: &writeStart, PLCWriteEndedAt: &writeEnd, FinalStatus: "failed",
		})
		return failed(fmt.Sprintf("write parameter %s: %v", op.ParameterID, err))
	}

	actual := readbackParameter(ctx, adapter, *p.WriteAddr, p.DataType)
	completed := time.Now()
	audit(store.AuditEntry{
		EventType: "parameter_write", ParameterName: p.Name, TargetValue: &target, ActualValue: actual,
		PLCWriteStartedAt: &writeStart, PLCWriteEndedAt: &writeEnd, OperationCompletedAt: &completed,
		FinalStatus: "ok",
	})
	return ok()
}

// readbackParameter re-reads a just-written value for the audit trail's
// actual_value column. A failed read is tolerated by recording no
// readback rather than failing a write that already succeeded.
func readbackParameter(ctx context.Context, adapter plc.Adapter, addr plc.Address, dt plc.DataType) *float64 {
	v, err := adapter.ReadParameter(ctx, addr, dt)
	if err != nil {
		return nil
	}
	return &v
}

func sleepOrCancel(ctx context.Context, d time.Duration) Outcome {
	select {
	case <-ctx.Done():
		return cancelled()
	case <-time.After(d):
		return ok()
	}
}
