package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// CommandNotification is the payload a trigger sends on INSERT into
// parameter_control_commands, carrying just enough for T3 to decide whether
// it's worth a round trip back to the table.
type CommandNotification struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

// NotificationHandler is invoked once per received notification, on its own
// goroutine so a slow handler never stalls the listen loop.
type NotificationHandler func(n CommandNotification)

// Listener maintains a LISTEN connection on one channel, reconnecting on
// any error, and fans out parsed notifications to registered handlers.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
	log     *logrus.Entry

	mu          sync.RWMutex
	handlers    []NotificationHandler
	cancel      context.CancelFunc
	running     bool
	onSubscribe func()
}

// OnSubscribe registers a callback invoked each time LISTEN is
// (re-)established, used by callers that need to know the push path is
// confirmed live (see internal/paramwriter's watchdog).
func (l *Listener) OnSubscribe(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSubscribe = fn
}

// NewListener targets a LISTEN channel backed by pool.
func NewListener(pool *pgxpool.Pool, channel string, log *logrus.Entry) *Listener {
	return &Listener{pool: pool, channel: channel, log: log}
}

// OnNotify registers a handler. Handlers added after Start has begun are
// still honored on the next received notification.
func (l *Listener) OnNotify(h NotificationHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Start begins the listen loop in the background; ctx cancellation stops it.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true
	l.mu.Unlock()

	go l.loop(runCtx)
}

// Stop ends the listen loop.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	l.cancel()
}

func (l *Listener) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := l.listenOnce(ctx); err != nil {
			l.log.WithError(err).Warn("listener: connection lost, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", l.channel)); err != nil {
		return fmt.Errorf("start listen: %w", err)
	}
	l.log.WithField("channel", l.channel).Info("listener: subscribed")
	l.mu.RLock()
	onSubscribe := l.onSubscribe
	l.mu.RUnlock()
	if onSubscribe != nil {
		onSubscribe()
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var n CommandNotification
		if err := json.Unmarshal([]byte(notification.Payload), &n); err != nil {
			l.log.WithError(err).Warn("listener: malformed notification payload, dropping")
			continue
		}
		l.dispatch(n)
	}
}

func (l *Listener) dispatch(n CommandNotification) {
	l.mu.RLock()
	handlers := make([]NotificationHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, h := range handlers {
		go h(n)
	}
}
