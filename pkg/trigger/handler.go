package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billsync/pkg/ledger"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/reconcile"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Report *reconcile.Report `json:"report,omitempty"`
}

// Handler returns an http.HandlerFunc that runs a pass synchronously and
// answers with its report. The pass is not canceled when the client goes
// away.
//
//	200  pass finished (outcome success or partial)
//	409  a pass is already running here or on another instance
//	502  the ledger could not be read
//	500  any other failure
func Handler(r *Runner, log *slog.Logger) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := context.WithoutCancel(req.Context())
		report, err := r.Trigger(ctx, SourceHTTP)

		status := http.StatusOK
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrLockHeld):
			status = http.StatusConflict
		case errors.Is(err, ledger.ErrIntegration):
			status = http.StatusBadGateway
		default:
			status = http.StatusInternalServerError
		}

		var body any = report
		if err != nil {
			body = errorResponse{Error: err.Error(), Report: report}
		}
		writeJSON(ctx, w, status, body, log)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.ErrorContext(ctx, "failed to write reconcile response", logger.Error(err))
	}
}
