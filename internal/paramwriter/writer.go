package paramwriter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/albaraazain/ald-control-plane/internal/config"
	"github.com/albaraazain/ald-control-plane/internal/dedupe"
	"github.com/albaraazain/ald-control-plane/internal/metrics"
	"github.com/albaraazain/ald-control-plane/internal/paramcache"
	"github.com/albaraazain/ald-control-plane/internal/plc"
	"github.com/albaraazain/ald-control-plane/internal/store"
)

// Writer is T3: it ingests parameter-control commands via a realtime
// listener (push) and a periodic poll (pull), claims each command exactly
// once, and performs a typed, retried PLC write.
type Writer struct {
	machineID string
	adapter   plc.Adapter
	cache     *paramcache.Cache
	db        *store.DB
	listener  *store.Listener
	seen      *dedupe.Set
	redisSeen *dedupe.RedisSet // nil unless REDIS_URL configured
	log       *logrus.Entry
	cfg       config.WriterConfig

	pushConfirmed atomic.Bool
	lastPushSeen  atomic.Int64 // unix nanos of last confirmed subscription
}

// New builds a Writer. redisSeen may be nil.
func New(machineID string, adapter plc.Adapter, cache *paramcache.Cache, db *store.DB, listener *store.Listener, redisSeen *dedupe.RedisSet, log *logrus.Entry, cfg config.WriterConfig) *Writer {
	w := &Writer{
		machineID: machineID,
		adapter:   adapter,
		cache:     cache,
		db:        db,
		listener:  listener,
		seen:      dedupe.New(),
		redisSeen: redisSeen,
		log:       log,
		cfg:       cfg,
	}
	listener.OnSubscribe(func() {
		w.pushConfirmed.Store(true)
		w.lastPushSeen.Store(time.Now().UnixNano())
	})
	return w
}

// Run drives the push listener, the adaptive pull poll, the realtime
// watchdog, and the hard-safety sweep, all until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	w.listener.OnNotify(func(n store.CommandNotification) {
		if n.Table != "" && n.Table != "parameter_control_commands" {
			return
		}
		w.handleID(ctx, n.ID)
	})
	w.listener.Start(ctx)
	defer w.listener.Stop()

	go w.watchdogLoop(ctx)
	go w.pullLoop(ctx)
	go w.safetySweepLoop(ctx)

	<-ctx.Done()
}

// watchdogLoop marks the push path degraded if no subscription has been
// confirmed within the configured watchdog window.
func (w *Writer) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := w.lastPushSeen.Load()
			if last == 0 {
				continue
			}
			if time.Since(time.Unix(0, last)) > w.cfg.RealtimeWatchdog {
				w.pushConfirmed.Store(false)
			}
		}
	}
}

func (w *Writer) pushHealthy() bool {
	return w.pushConfirmed.Load()
}

// pullLoop polls for unclaimed commands at a cadence that tightens when
// the push path is degraded.
func (w *Writer) pullLoop(ctx context.Context) {
	interval := w.cfg.PollDegraded
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)

			want := w.cfg.PollDegraded
			if w.pushHealthy() {
				want = w.cfg.PollHealthy
			}
			if want != interval {
				interval = want
				ticker.Reset(interval)
			}
		}
	}
}

// safetySweepLoop polls on a fixed cadence regardless of push health, as a
// hard backstop against any gap in both paths.
func (w *Writer) safetySweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SafetySweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Writer) pollOnce(ctx context.Context) {
	cmds, err := w.db.PendingParameterControlCommands(ctx, w.machineID, 20)
	if err != nil {
		w.log.WithError(err).Warn("paramwriter: pull poll failed")
		return
	}
	for _, cmd := range cmds {
		w.handleID(ctx, cmd.ID)
	}
}

func (w *Writer) handleID(ctx context.Context, id string) {
	if w.alreadySeen(ctx, id) {
		return
	}

	cmd, err := w.db.ClaimParameterControlCommand(ctx, w.machineID, id)
	if err != nil {
		if err != store.ErrLostRace {
			w.log.WithError(err).WithField("command_id", id).Warn("paramwriter: claim failed")
		}
		return
	}

	w.process(ctx, cmd)
}

// alreadySeen checks (and records into) the Redis-backed set first when
// configured, then the in-process set, matching the expansion's stated
// precedence for closing the cross-replica race window.
func (w *Writer) alreadySeen(ctx context.Context, id string) bool {
	if w.redisSeen != nil {
		seen, err := w.redisSeen.SeenOrMark(ctx, id)
		if err == nil && seen {
			return true
		}
	}
	return w.seen.SeenOrMark(id)
}

func (w *Writer) process(ctx context.Context, cmd store.ParameterControlCommand) {
	log := w.log.WithField("command_id", cmd.ID)

	target, err := selectTarget(w.cache, cmd)
	if err != nil {
		metrics.ParameterWritesTotal.WithLabelValues(w.machineID, "unresolved").Inc()
		_ = w.db.FinalizeParameterControlCommand(ctx, cmd.ID, "failed", err.Error(), 0)
		log.WithError(err).Warn("paramwriter: could not resolve write target")
		return
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < w.cfg.MaxRetryAttempts; attempt++ {
		attempts = attempt + 1
		if attempt > 0 {
			metrics.ParameterWriteRetries.WithLabelValues(w.machineID).Inc()
			wait := w.cfg.RetryBackoffs[min(attempt-1, len(w.cfg.RetryBackoffs)-1)]
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		if !w.adapter.IsConnected() {
			w.waitForReconnect(ctx)
		}

		lastErr = performWrite(ctx, w.adapter, cmd, target)
		if lastErr == nil {
			break
		}
		log.WithError(lastErr).WithField("attempt", attempts).Warn("paramwriter: write attempt failed")
	}

	if lastErr != nil {
		metrics.ParameterWritesTotal.WithLabelValues(w.machineID, "failed").Inc()
		_ = w.db.FinalizeParameterControlCommand(ctx, cmd.ID, "failed", lastErr.Error(), attempts)
		log.WithError(lastErr).Error("paramwriter: retry budget exhausted")
		return
	}

	if w.cfg.VerifyWrites {
		verify(ctx, w.adapter, log, target, cmd.TargetValue)
	}

	metrics.ParameterWritesTotal.WithLabelValues(w.machineID, "ok").Inc()
	_ = w.db.FinalizeParameterControlCommand(ctx, cmd.ID, "completed", "", attempts)
}

// waitForReconnect blocks up to the configured reconnect wait for the
// adapter to report connected again before the caller counts the attempt,
// per the retry contract.
func (w *Writer) waitForReconnect(ctx context.Context) {
	deadline := time.Now().Add(w.cfg.ReconnectWait)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if w.adapter.IsConnected() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

