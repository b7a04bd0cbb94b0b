package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/httpserver"
	"github.com/dmitrymomot/billsync/pkg/requestid"
)

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func serve(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, probeBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body probeBody
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRouter_Liveness(t *testing.T) {
	t.Parallel()
	rec, body := serve(t, httpserver.Router(httpserver.RouterOptions{}), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body.Status)
}

func TestRouter_Readiness(t *testing.T) {
	t.Parallel()
	ok := httpserver.Check{Name: "mongo", Probe: func(context.Context) error { return nil }}
	down := httpserver.Check{Name: "redis", Probe: func(context.Context) error { return errors.New("connection refused") }}

	t.Run("all checks pass", func(t *testing.T) {
		t.Parallel()
		r := httpserver.Router(httpserver.RouterOptions{Checks: []httpserver.Check{ok}})
		rec, body := serve(t, r, http.MethodGet, "/readyz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", body.Status)
		assert.Equal(t, map[string]string{"mongo": "ok"}, body.Checks)
	})

	t.Run("one check fails", func(t *testing.T) {
		t.Parallel()
		r := httpserver.Router(httpserver.RouterOptions{Checks: []httpserver.Check{ok, down}})
		rec, body := serve(t, r, http.MethodGet, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, map[string]string{"mongo": "ok", "redis": "connection refused"}, body.Checks)
	})

	t.Run("check is bounded by timeout", func(t *testing.T) {
		t.Parallel()
		slow := httpserver.Check{Name: "mongo", Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		h := httpserver.Readiness(nil, 20*time.Millisecond, slow)
		rec, body := serve(t, h, http.MethodGet, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, context.DeadlineExceeded.Error(), body.Checks["mongo"])
	})
}

func TestRouter_OptionalMounts(t *testing.T) {
	t.Parallel()
	marker := func(code int) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) })
	}

	bare := httpserver.Router(httpserver.RouterOptions{})
	rec, _ := serve(t, bare, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = serve(t, bare, http.MethodPost, "/reconcile")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	full := httpserver.Router(httpserver.RouterOptions{
		Metrics:   marker(http.StatusTeapot),
		Reconcile: marker(http.StatusAccepted),
	})
	rec, _ = serve(t, full, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	rec, _ = serve(t, full, http.MethodPost, "/reconcile")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec, _ = serve(t, full, http.MethodGet, "/reconcile")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_RecoversPanics(t *testing.T) {
	t.Parallel()
	r := httpserver.Router(httpserver.RouterOptions{
		Reconcile: http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
	})
	rec, _ := serve(t, r, http.MethodPost, "/reconcile")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouter_TagsRequests(t *testing.T) {
	t.Parallel()
	var seen string
	r := httpserver.Router(httpserver.RouterOptions{
		Reconcile: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			seen = requestid.FromContext(req.Context())
		}),
	})

	req := httptest.NewRequest(http.MethodPost, "/reconcile", nil)
	req.Header.Set(requestid.Header, "ops-run-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "ops-run-7", seen)
	assert.Equal(t, "ops-run-7", rec.Header().Get(requestid.Header))
}
