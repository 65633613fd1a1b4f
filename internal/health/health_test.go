package health

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer() *Server {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(logrus.NewEntry(l))
}

func doGet(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHandleLive_AlwaysOK(t *testing.T) {
	s := testServer()
	rec := doGet(s, "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReady_OKWithNoChecksRegistered(t *testing.T) {
	s := testServer()
	rec := doGet(s, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReady_503WhenAnyCheckFails(t *testing.T) {
	s := testServer()
	s.RegisterCheck("database", func() error { return nil })
	s.RegisterCheck("plc", func() error { return errors.New("not connected") })

	rec := doGet(s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not connected")
}

func TestHandleReady_OKWhenAllChecksPass(t *testing.T) {
	s := testServer()
	s.RegisterCheck("database", func() error { return nil })
	s.RegisterCheck("plc", func() error { return nil })

	rec := doGet(s, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperationTracker_StartCompleteAndList(t *testing.T) {
	tr := newOperationTracker(10)
	tr.start("op-1", "write")
	tr.complete("op-1", nil)

	ops := tr.list()
	require.Len(t, ops, 1)
	assert.Equal(t, "op-1", ops[0].ID)
	assert.NotNil(t, ops[0].CompletedAt)
	assert.Empty(t, ops[0].Error)
}

func TestOperationTracker_RecordsErrorOnCompletion(t *testing.T) {
	tr := newOperationTracker(10)
	tr.start("op-2", "write")
	tr.complete("op-2", errors.New("write failed"))

	ops := tr.list()
	require.Len(t, ops, 1)
	assert.Equal(t, "write failed", ops[0].Error)
}

func TestOperationTracker_EvictsOldestBeyondMax(t *testing.T) {
	tr := newOperationTracker(2)
	tr.start("op-1", "a")
	tr.start("op-2", "a")
	tr.start("op-3", "a")

	ops := tr.list()
	require.Len(t, ops, 2)
	assert.Equal(t, "op-2", ops[0].ID)
	assert.Equal(t, "op-3", ops[1].ID)
}

func TestOperationMiddleware_TracksRequest(t *testing.T) {
	s := testServer()
	s.echo.GET("/tracked", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, s.OperationMiddleware("tracked"))

	rec := doGet(s, "/tracked")
	assert.Equal(t, http.StatusOK, rec.Code)

	ops := s.ops.list()
	require.Len(t, ops, 1)
	assert.Equal(t, "tracked", ops[0].Type)
	assert.NotNil(t, ops[0].CompletedAt)
}
