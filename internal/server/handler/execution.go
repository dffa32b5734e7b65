package handler

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// legView is one leg as shown to operators.
type legView struct {
	Venue        string `json:"venue"`
	AssetIn      string `json:"asset_in"`
	AssetOut     string `json:"asset_out"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
	Quoted       string `json:"quoted"`
	Realized     string `json:"realized"`
}

// executionView renders amounts in whole tokens next to their raw values.
type executionView struct {
	ID          string            `json:"id"`
	RequestID   string            `json:"request_id,omitempty"`
	Strategy    string            `json:"strategy"`
	Funding     string            `json:"funding"`
	Asset       string            `json:"asset"`
	Symbol      string            `json:"symbol"`
	Status      string            `json:"status"`
	Amounts     map[string]string `json:"amounts"`
	Raw         map[string]string `json:"raw"`
	Beneficiary string            `json:"beneficiary"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	Component   string            `json:"component,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Legs        []legView         `json:"legs,omitempty"`
}

func newExecutionView(exec domain.Execution, assets domain.AssetBook) executionView {
	v := executionView{
		ID:          exec.ID,
		RequestID:   exec.RequestID,
		Strategy:    exec.Strategy.String(),
		Funding:     string(exec.Funding),
		Asset:       exec.Asset.Hex(),
		Symbol:      assets.Symbol(exec.Asset),
		Status:      string(exec.Status),
		Amounts:     make(map[string]string),
		Raw:         make(map[string]string),
		Beneficiary: exec.Beneficiary.Hex(),
		ErrorKind:   exec.ErrorKind,
		Component:   exec.Component,
		Error:       exec.Error,
		StartedAt:   exec.StartedAt,
		CompletedAt: exec.CompletedAt,
	}
	for name, amt := range map[string]*big.Int{
		"capital": exec.Capital,
		"cost":    exec.Cost,
		"premium": exec.Premium,
		"profit":  exec.Profit,
		"payout":  exec.Payout,
	} {
		if amt == nil {
			continue
		}
		v.Amounts[name] = assets.Format(exec.Asset, amt)
		v.Raw[name] = amt.String()
	}
	for _, l := range exec.Legs {
		v.Legs = append(v.Legs, legView{
			Venue:        l.Leg.Venue,
			AssetIn:      assets.Symbol(l.Leg.AssetIn),
			AssetOut:     assets.Symbol(l.Leg.AssetOut),
			AmountIn:     assets.Format(l.Leg.AssetIn, l.Leg.AmountIn),
			MinAmountOut: assets.Format(l.Leg.AssetOut, l.Leg.MinAmountOut),
			Quoted:       assets.Format(l.Leg.AssetOut, l.Quoted),
			Realized:     assets.Format(l.Leg.AssetOut, l.Realized),
		})
	}
	return v
}

// ExecutionHandler serves the execution history.
type ExecutionHandler struct {
	store  domain.ExecutionStore
	assets domain.AssetBook
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(store domain.ExecutionStore, assets domain.AssetBook, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, assets: assets, logger: logger}
}

// ListExecutions returns recent executions, newest first.
// GET /api/executions?strategy=arbitrage&status=succeeded&limit=50&offset=0
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ExecutionFilter{ListOpts: parseListOpts(r)}
	if s := q.Get("strategy"); s != "" {
		tag, err := domain.ParseStrategyTag(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Strategy = tag
	}
	if s := q.Get("status"); s != "" {
		f.Status = domain.ExecStatus(s)
	}

	execs, err := h.store.List(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	views := make([]executionView, 0, len(execs))
	for _, exec := range execs {
		views = append(views, newExecutionView(exec, h.assets))
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": views})
}

// GetExecution returns a single execution with its legs.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get execution failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, newExecutionView(exec, h.assets))
}

// GetPayoutTotal sums committed payouts for an asset.
// GET /api/payouts?asset=0x...&since=2025-01-01T00:00:00Z
func (h *ExecutionHandler) GetPayoutTotal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !common.IsHexAddress(q.Get("asset")) {
		writeError(w, http.StatusBadRequest, "asset query parameter must be an address")
		return
	}
	asset := common.HexToAddress(q.Get("asset"))
	since := time.Unix(0, 0).UTC()
	if opts := parseListOpts(r); opts.Since != nil {
		since = *opts.Since
	}

	total, err := h.store.SumPayout(r.Context(), asset, since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: sum payout failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to sum payouts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":  asset.Hex(),
		"symbol": h.assets.Symbol(asset),
		"since":  since.Format(time.RFC3339),
		"total":  h.assets.Format(asset, total),
		"raw":    total.String(),
	})
}
