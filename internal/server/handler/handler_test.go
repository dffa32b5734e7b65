package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/crypto"
	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/executor"
)

var (
	usdc   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	assets = domain.AssetBook{usdc: {Symbol: "USDC", Address: usdc, Decimals: 6}}
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubOpener struct {
	req domain.Request
	err error
}

func (s stubOpener) Open(crypto.Envelope) (domain.Request, error) { return s.req, s.err }

type stubSubmitter struct {
	got domain.Request
	res executor.Result
	err error
}

func (s *stubSubmitter) Do(_ context.Context, req domain.Request) (executor.Result, error) {
	s.got = req
	return s.res, s.err
}

type memStore struct {
	execs  []domain.Execution
	filter domain.ExecutionFilter
}

func (m *memStore) Create(context.Context, domain.Execution) error { return nil }

func (m *memStore) GetByID(_ context.Context, id string) (domain.Execution, error) {
	for _, e := range m.execs {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.Execution{}, domain.ErrNotFound
}

func (m *memStore) List(_ context.Context, f domain.ExecutionFilter) ([]domain.Execution, error) {
	m.filter = f
	return m.execs, nil
}

func (m *memStore) SumPayout(context.Context, common.Address, time.Time) (*big.Int, error) {
	return big.NewInt(3_500_000), nil
}

func post(t *testing.T, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"body":{},"expires_at":1,"signature":"0x"}`)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestExecuteReturnsExecution(t *testing.T) {
	sub := &stubSubmitter{res: executor.Result{Execution: domain.Execution{
		ID:       "exec-1",
		Strategy: domain.StrategyArbitrage,
		Asset:    usdc,
		Status:   domain.ExecSucceeded,
		Payout:   big.NewInt(1_250_000),
	}}}
	h := NewManeuverHandler(stubOpener{req: domain.Request{ID: "req-1", Maneuver: &domain.Maneuver{}}}, sub, assets, discard())

	rec := post(t, h.Execute)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "api", sub.got.Source)
	require.Equal(t, domain.OpExecute, sub.got.Op)

	body := decode(t, rec)
	exec := body["execution"].(map[string]any)
	require.Equal(t, "1.25", exec["amounts"].(map[string]any)["payout"])
	require.Equal(t, "USDC", exec["symbol"])
}

func TestExecuteMapsFailures(t *testing.T) {
	reverted := domain.Execution{ID: "exec-2", Status: domain.ExecReverted, ErrorKind: "slippage_exceeded"}
	cases := []struct {
		name string
		res  executor.Result
		err  error
		code int
	}{
		{"reverted in engine", executor.Result{Execution: reverted, Err: domain.Failf(domain.ErrSlippageExceeded, "uni", "short")}, nil, http.StatusUnprocessableEntity},
		{"rejected at gate", executor.Result{Execution: domain.Execution{ID: "x"}, Err: domain.Failf(domain.ErrUnauthorized, "gate", "no")}, nil, http.StatusUnauthorized},
		{"duplicate", executor.Result{Err: executor.ErrDuplicate}, nil, http.StatusConflict},
		{"disabled", executor.Result{Err: executor.ErrStrategyDisabled}, nil, http.StatusForbidden},
		{"stopped", executor.Result{}, executor.ErrStopped, http.StatusServiceUnavailable},
		{"unknown", executor.Result{Err: errors.New("disk on fire")}, nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &stubSubmitter{res: tc.res, err: tc.err}
			h := NewManeuverHandler(stubOpener{req: domain.Request{ID: "req"}}, sub, assets, discard())
			require.Equal(t, tc.code, post(t, h.Execute).Code)
		})
	}
}

func TestOpenRejectsBadEnvelopes(t *testing.T) {
	h := NewManeuverHandler(stubOpener{err: domain.ErrBadSignature}, &stubSubmitter{}, assets, discard())
	require.Equal(t, http.StatusUnauthorized, post(t, h.Execute).Code)

	rec := httptest.NewRecorder()
	h.Execute(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	h = NewManeuverHandler(stubOpener{req: domain.Request{Op: domain.OpWithdraw}}, &stubSubmitter{}, assets, discard())
	require.Equal(t, http.StatusBadRequest, post(t, h.Execute).Code, "op must match the endpoint")
}

func TestWithdraw(t *testing.T) {
	req := domain.Request{ID: "w-1", Withdrawal: &domain.Withdrawal{Asset: usdc, Amount: big.NewInt(2_000_000), To: usdc}}
	h := NewManeuverHandler(stubOpener{req: req}, &stubSubmitter{}, assets, discard())
	rec := post(t, h.Withdraw)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2", decode(t, rec)["amount"])

	h = NewManeuverHandler(stubOpener{req: req}, &stubSubmitter{res: executor.Result{Err: domain.Failf(domain.ErrExternalCallFailed, usdc.Hex(), "short")}}, assets, discard())
	rec = post(t, h.Withdraw)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "external_call_failed", decode(t, rec)["kind"])
}

func TestExecutionEndpoints(t *testing.T) {
	store := &memStore{execs: []domain.Execution{{ID: "exec-1", Strategy: domain.StrategySandwich, Asset: usdc, Status: domain.ExecSucceeded}}}
	h := NewExecutionHandler(store, assets, discard())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/executions", h.ListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", h.GetExecution)
	mux.HandleFunc("GET /api/payouts", h.GetPayoutTotal)

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		return rec
	}

	rec := get("/api/executions?strategy=sandwich&status=succeeded&limit=900")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.StrategySandwich, store.filter.Strategy)
	require.Equal(t, domain.ExecSucceeded, store.filter.Status)
	require.Equal(t, 500, store.filter.Limit)

	require.Equal(t, http.StatusBadRequest, get("/api/executions?strategy=scalp").Code)
	require.Equal(t, http.StatusOK, get("/api/executions/exec-1").Code)
	require.Equal(t, http.StatusNotFound, get("/api/executions/missing").Code)

	rec = get("/api/payouts?asset=" + usdc.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3.5", decode(t, rec)["total"])
	require.Equal(t, http.StatusBadRequest, get("/api/payouts?asset=usdc").Code)
}

func TestHealthAndStatus(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("down") },
	}, discard())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "degraded", decode(t, rec)["status"])

	s := NewStatusHandler(func() domain.BotStatus { return domain.BotStatus{Mode: "serve", InCall: true} })
	rec = httptest.NewRecorder()
	s.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["in_call"])
}

func TestArchiveDisabled(t *testing.T) {
	h := NewArchiveHandler(nil, nil, discard())
	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
