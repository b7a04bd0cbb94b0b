package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/requestid"
)

// Check is a named readiness dependency such as the mirror database.
type Check struct {
	Name  string
	Probe func(context.Context) error
}

// RouterOptions selects what the ops router mounts. Nil handlers are not
// mounted.
type RouterOptions struct {
	Checks       []Check
	CheckTimeout time.Duration
	Metrics      http.Handler // GET /metrics
	Reconcile    http.Handler // POST /reconcile
	Logger       *slog.Logger
}

// Router builds the ops endpoints:
//
//	GET  /healthz    process is up
//	GET  /readyz     every Check passes
//	GET  /metrics    Prometheus exposition
//	POST /reconcile  manual pass
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(requestid.Middleware, middleware.Recoverer)

	r.Get("/healthz", Liveness())
	r.Get("/readyz", Readiness(opts.Logger, opts.CheckTimeout, opts.Checks...))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Reconcile != nil {
		r.Method(http.MethodPost, "/reconcile", opts.Reconcile)
	}
	return r
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness always answers 200.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, probeResponse{Status: "alive"})
	}
}

// Readiness runs every check with its own timeout and answers 503 when any
// of them fails. The body lists each check as "ok" or its error.
func Readiness(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := probeResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK

		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := c.Probe(ctx)
			cancel()
			if err != nil {
				log.WarnContext(r.Context(), "readiness check failed",
					slog.String("check", c.Name), logger.Error(err))
				resp.Checks[c.Name] = err.Error()
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}
		writeProbe(w, status, resp)
	}
}

func writeProbe(w http.ResponseWriter, status int, body probeResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
