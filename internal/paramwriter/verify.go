package paramwriter

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/albaraazain/ald-control-plane/internal/plc"
)

const floatVerifyTolerance = 0.01

// verify re-reads target after a successful write and logs a mismatch.
// Per the documented verification policy, a mismatch never fails the
// command — it is observability only.
func verify(ctx context.Context, adapter plc.Adapter, log *logrus.Entry, target writeTarget, expected float64) {
	addr := plc.Address{Kind: plc.RegisterHolding, Addr: target.addr}
	if target.dt == plc.DataTypeBool {
		addr.Kind = plc.RegisterCoil
	}

	actual, err := adapter.ReadParameter(ctx, addr, target.dt)
	if err != nil {
		log.WithError(err).Debug("paramwriter: verification read failed, skipping")
		return
	}

	tolerance := floatVerifyTolerance
	if target.dt == plc.DataTypeBool || target.dt == plc.DataTypeInt32 || target.dt == plc.DataTypeInt16 {
		tolerance = 0
	}
	if math.Abs(actual-expected) > tolerance {
		log.WithFields(logrus.Fields{
			"expected": expected,
			"actual":   actual,
		}).Warn("paramwriter: write verification mismatch (command not failed)")
	}
}
