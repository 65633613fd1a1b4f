// Package sampler implements T1, the 1 Hz wide-row parameter sampler and
// setpoint reconciler.
package sampler

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/albaraazain/ald-control-plane/internal/config"
	"github.com/albaraazain/ald-control-plane/internal/deadletter"
	"github.com/albaraazain/ald-control-plane/internal/metrics"
	"github.com/albaraazain/ald-control-plane/internal/paramcache"
	"github.com/albaraazain/ald-control-plane/internal/plc"
	"github.com/albaraazain/ald-control-plane/internal/store"
)

// setpointMismatchThreshold is the minimum |plc - db| delta worth acting on
// for a writable parameter; below this the values are considered in sync.
const setpointMismatchThreshold = 0.01

// record is one tick's wide row, handed off from the tick loop to the
// async writer goroutine over a bounded channel.
type record struct {
	machineID string
	ts        time.Time
	values    map[string]float64
}

// Stats is the in-memory, log-exposed counter set the spec calls for
// alongside the Prometheus collectors in internal/metrics.
type Stats struct {
	ReadCyclesOK     int64
	ReadCyclesFailed int64
	WritesOK         int64
	WritesFailed     int64
	TimingViolations int64
	SetpointChanges  int64
	LastError        string
}

// Sampler runs T1's tick loop and its async writer goroutine.
type Sampler struct {
	machineID string
	adapter   plc.Adapter
	cache     *paramcache.Cache
	db        *store.DB
	dlq       *deadletter.Queue
	log       *logrus.Entry
	cfg       config.SamplerConfig

	ch    chan record
	stats Stats
}

// New builds a Sampler. Caller still owns adapter/db/dlq lifecycle.
func New(machineID string, adapter plc.Adapter, cache *paramcache.Cache, db *store.DB, dlq *deadletter.Queue, log *logrus.Entry, cfg config.SamplerConfig) *Sampler {
	return &Sampler{
		machineID: machineID,
		adapter:   adapter,
		cache:     cache,
		db:        db,
		dlq:       dlq,
		log:       log,
		cfg:       cfg,
		ch:        make(chan record, 16),
	}
}

// Run drives the tick loop until ctx is cancelled. The async writer runs on
// its own goroutine for the duration of Run.
func (s *Sampler) Run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writerLoop(ctx)
	}()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(s.ch)
			<-writerDone
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs exactly one sampling + reconciliation cycle.
func (s *Sampler) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		metrics.TickDuration.WithLabelValues(s.machineID).Observe(elapsed.Seconds())
		if elapsed > s.cfg.TimingViolation {
			s.stats.TimingViolations++
			metrics.TickTimingViolations.WithLabelValues(s.machineID).Inc()
			s.log.WithField("elapsed", elapsed).Warn("sampler: tick exceeded timing threshold")
		}
	}()

	if !s.adapter.IsConnected() {
		s.stats.ReadCyclesFailed++
		s.log.Warn("sampler: adapter not connected, skipping tick")
		return
	}

	readAddrs, readDTs := s.cache.ReadAddresses()
	values, err := s.adapter.ReadAllParameters(ctx, readAddrs, readDTs)
	if err != nil {
		s.stats.ReadCyclesFailed++
		s.stats.LastError = err.Error()
		s.log.WithError(err).Warn("sampler: read cycle failed")
		return
	}
	s.stats.ReadCyclesOK++

	row := make(map[string]float64, len(values))
	for id, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s.log.WithField("parameter_id", id).Warn("sampler: dropping non-numeric reading")
			continue
		}
		col := s.cache.ColumnName(id)
		if col == "" {
			continue
		}
		row[col] = v
	}

	select {
	case s.ch <- record{machineID: s.machineID, ts: start, values: row}:
	default:
		s.log.Warn("sampler: writer channel full, dead-lettering this tick's reading")
		s.enqueueDeadLetter(record{machineID: s.machineID, ts: start, values: row})
	}

	s.reconcileSetpoints(ctx)
}

// reconcileSetpoints implements the PLC-always-wins comparison between the
// device's setpoint readback and the database's recorded set_value.
func (s *Sampler) reconcileSetpoints(ctx context.Context) {
	writeAddrs, writeDTs := s.cache.WriteAddresses()
	if len(writeAddrs) == 0 {
		return
	}

	setpoints, err := s.adapter.ReadAllSetpoints(ctx, writeAddrs, writeDTs)
	if err != nil {
		s.log.WithError(err).Warn("sampler: setpoint read failed, skipping reconciliation this tick")
		return
	}

	ids := make([]string, 0, len(setpoints))
	for id := range setpoints {
		ids = append(ids, id)
	}
	dbValues, err := s.db.SetValues(ctx, ids)
	if err != nil {
		s.log.WithError(err).Warn("sampler: failed to read db set_value, skipping reconciliation this tick")
		return
	}

	for id, plcValue := range setpoints {
		dbValue, ok := dbValues[id]
		if !ok {
			continue
		}
		delta := plcValue - dbValue
		if math.Abs(delta) <= setpointMismatchThreshold {
			continue
		}
		if err := s.db.UpdateSetValue(ctx, id, plcValue); err != nil {
			s.log.WithError(err).WithField("parameter_id", id).Warn("sampler: failed to reconcile setpoint")
			continue
		}
		s.stats.SetpointChanges++
		metrics.SetpointReconciliations.WithLabelValues(s.machineID).Inc()
		pct := 0.0
		if dbValue != 0 {
			pct = delta / dbValue * 100
		}
		s.log.WithFields(logrus.Fields{
			"parameter_id": id,
			"delta":        delta,
			"delta_pct":    pct,
		}).Info("sampler: external setpoint change detected, database updated to match PLC")
	}
}

// writerLoop drains the handoff channel and performs durable wide-row
// inserts, falling back to the dead-letter queue when the retry budget is
// exhausted or ctx is cancelled mid-retry. It never applies backpressure to the tick loop beyond the
// channel's fixed capacity.
func (s *Sampler) writerLoop(ctx context.Context) {
	for rec := range s.ch {
		s.writeWithRetry(ctx, rec)
	}
	s.drainDeadLetters(ctx)
}

func (s *Sampler) writeWithRetry(ctx context.Context, rec record) {
	var lastErr error
	for attempt, wait := range s.cfg.InsertRetryBases {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				s.enqueueDeadLetter(rec)
				return
			case <-time.After(wait):
			}
		}
		if err := s.db.UpsertReading(ctx, rec.machineID, rec.ts, rec.values); err != nil {
			lastErr = err
			continue
		}
		s.stats.WritesOK++
		return
	}

	s.stats.WritesFailed++
	s.stats.LastError = lastErr.Error()
	s.log.WithError(lastErr).WithField("timestamp", rec.ts).Warn("sampler: wide-row insert retry budget exhausted, dead-lettering")
	s.enqueueDeadLetter(rec)
}

func (s *Sampler) enqueueDeadLetter(rec record) {
	err := s.dlq.Put(deadletter.Entry{MachineID: rec.machineID, Timestamp: rec.ts, Values: rec.values})
	if err != nil {
		s.log.WithError(err).Error("sampler: failed to persist dead-letter entry, reading is lost")
		return
	}
	if n, err := s.dlq.Len(); err == nil {
		metrics.DeadLetterDepth.WithLabelValues(s.machineID).Set(float64(n))
	}
}

// drainDeadLetters is invoked once at writer shutdown, after ctx has been
// cancelled, so it replays queued readings under a fresh context bounded
// to 10 s; ReplayDeadLetters does the same on demand with the caller's
// context.
func (s *Sampler) drainDeadLetters(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_ = s.dlq.Drain(func(e deadletter.Entry) error {
		return s.db.UpsertReading(drainCtx, e.MachineID, e.Timestamp, e.Values)
	})
}

// ReplayDeadLetters attempts to flush every queued dead-letter entry now,
// intended to be called on a slow interval (e.g. after a reconnect) rather
// than from the hot path.
func (s *Sampler) ReplayDeadLetters(ctx context.Context) error {
	err := s.dlq.Drain(func(e deadletter.Entry) error {
		return s.db.UpsertReading(ctx, e.MachineID, e.Timestamp, e.Values)
	})
	if n, lenErr := s.dlq.Len(); lenErr == nil {
		metrics.DeadLetterDepth.WithLabelValues(s.machineID).Set(float64(n))
	}
	return err
}

// Snapshot returns a copy of the current in-memory stats.
func (s *Sampler) Snapshot() Stats {
	return s.stats
}
