// Package health exposes each terminal's liveness/readiness and Prometheus
// metrics over a small Echo server, mirroring the HTTP surface pattern the
// rest of this codebase uses for its API service.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Checker reports whether a dependency this terminal relies on (database,
// PLC) is currently reachable. Registered checks all must pass for /readyz
// to return 200.
type Checker func() error

// Server is the small HTTP surface every terminal runs alongside its main
// loop: liveness, readiness, and metrics.
type Server struct {
	echo *echo.Echo
	log  *logrus.Entry

	mu     sync.RWMutex
	checks map[string]Checker

	ops *operationTracker
}

// New builds a Server, not yet started; Start binds it to an address.
func New(log *logrus.Entry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		log:    log,
		checks: make(map[string]Checker),
		ops:    newOperationTracker(500),
	}

	e.GET("/livez", s.handleLive)
	e.GET("/readyz", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/operations", s.handleOperations)

	return s
}

// RegisterCheck adds a named readiness check. All registered checks must
// return nil for /readyz to report healthy.
func (s *Server) RegisterCheck(name string, c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// OperationMiddleware wraps every request with operation tracking, the way
// this codebase's statemanager middleware instruments API handlers,
// generalized here to any named operation rather than one fixed type.
func (s *Server) OperationMiddleware(operationType string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			opID := uuid.New().String()
			s.ops.start(opID, operationType)
			err := next(c)
			s.ops.complete(opID, err)
			return err
		}
	}
}

func (s *Server) handleLive(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "live"})
}

func (s *Server) handleReady(c echo.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"checks": failures,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleOperations(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ops.list())
}

// Start runs the HTTP server in the background; it returns immediately.
func (s *Server) Start(addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("health server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully stops the HTTP server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type operation struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// operationTracker is a bounded in-memory ring of recent operations, kept
// only for /operations diagnostics — not a source of truth for anything.
type operationTracker struct {
	mu       sync.Mutex
	max      int
	byID     map[string]*operation
	order    []string
}

func newOperationTracker(max int) *operationTracker {
	return &operationTracker{max: max, byID: make(map[string]*operation)}
}

func (t *operationTracker) start(id, opType string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.order) >= t.max {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.byID, oldest)
	}
	t.byID[id] = &operation{ID: id, Type: opType, StartedAt: time.Now()}
	t.order = append(t.order, id)
}

func (t *operationTracker) complete(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.byID[id]
	if !ok {
		return
	}
	now := time.Now()
	op.CompletedAt = &now
	if err != nil {
		op.Error = err.Error()
	}
}

func (t *operationTracker) list() []*operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*operation, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}
