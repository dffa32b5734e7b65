package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flashbot/internal/crypto"
	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/executor"
	"github.com/alanyoungcy/flashbot/internal/server/middleware"
)

// RequestOpener verifies a signed envelope and yields the request with the
// recovered caller.
type RequestOpener interface {
	Open(env crypto.Envelope) (domain.Request, error)
}

// Submitter runs a request and waits for its result.
type Submitter interface {
	Do(ctx context.Context, req domain.Request) (executor.Result, error)
}

// ManeuverHandler accepts signed operator requests.
type ManeuverHandler struct {
	opener RequestOpener
	exec   Submitter
	assets domain.AssetBook
	logger *slog.Logger
}

// NewManeuverHandler creates a ManeuverHandler.
func NewManeuverHandler(opener RequestOpener, exec Submitter, assets domain.AssetBook, logger *slog.Logger) *ManeuverHandler {
	return &ManeuverHandler{
		opener: opener,
		exec:   exec,
		assets: assets,
		logger: logger,
	}
}

// Execute runs a signed maneuver and returns its execution record.
// POST /api/maneuvers
func (h *ManeuverHandler) Execute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.open(w, r, domain.OpExecute)
	if !ok {
		return
	}
	res, err := h.exec.Do(r.Context(), req)
	if err == nil {
		err = res.Err
	}
	if res.Execution.ID == "" && err != nil {
		h.fail(w, r, req, err)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, map[string]any{
		"request_id": req.ID,
		"execution":  newExecutionView(res.Execution, h.assets),
	})
}

// Withdraw moves a custody balance out.
// POST /api/withdrawals
func (h *ManeuverHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := h.open(w, r, domain.OpWithdraw)
	if !ok {
		return
	}
	res, err := h.exec.Do(r.Context(), req)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		h.fail(w, r, req, err)
		return
	}
	wd := req.Withdrawal
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": req.ID,
		"asset":      wd.Asset.Hex(),
		"amount":     h.assets.Format(wd.Asset, wd.Amount),
		"to":         wd.To.Hex(),
	})
}

func (h *ManeuverHandler) open(w http.ResponseWriter, r *http.Request, op domain.RequestOp) (domain.Request, bool) {
	var env crypto.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return domain.Request{}, false
	}
	req, err := h.opener.Open(env)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: rejected envelope",
			slog.String("trace_id", middleware.TraceID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return domain.Request{}, false
	}
	if req.Op == "" {
		req.Op = op
	}
	if req.Op != op {
		writeError(w, http.StatusBadRequest, "request op does not match endpoint")
		return domain.Request{}, false
	}
	req.Source = "api"
	return req, true
}

func (h *ManeuverHandler) fail(w http.ResponseWriter, r *http.Request, req domain.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("request_id", req.ID),
			slog.String("trace_id", middleware.TraceID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, map[string]any{
		"request_id": req.ID,
		"error":      err.Error(),
		"kind":       domain.KindOf(err),
		"component":  domain.ComponentOf(err),
	})
}
