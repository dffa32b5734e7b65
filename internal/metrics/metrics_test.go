package metrics

import (
	"context"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

var usdc = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func book() domain.AssetBook {
	return domain.AssetBook{usdc: {Symbol: "USDC", Address: usdc, Decimals: 6}}
}

func TestRecordExecution(t *testing.T) {
	inCall := false
	m := New(book(), func() bool { return inCall })
	start := time.Unix(1_700_000_000, 0)

	m.RecordExecution(context.Background(), domain.Execution{
		Strategy:    domain.StrategyArbitrage,
		Funding:     domain.FundingFlashLoan,
		Asset:       usdc,
		Status:      domain.ExecSucceeded,
		Profit:      big.NewInt(2_500_000),
		Payout:      big.NewInt(1_500_000),
		Premium:     big.NewInt(900_000),
		Legs:        make([]domain.LegResult, 2),
		StartedAt:   start,
		CompletedAt: start.Add(20 * time.Millisecond),
	})
	m.RecordExecution(context.Background(), domain.Execution{
		Strategy:  domain.StrategySandwich,
		Funding:   domain.FundingCustody,
		Asset:     usdc,
		Status:    domain.ExecReverted,
		ErrorKind: "slippage_exceeded",
		Component: "uni",
		Payout:    big.NewInt(7),
	})

	require.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("arbitrage", "flashloan", "succeeded")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("sandwich", "custody", "reverted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("slippage_exceeded", "uni")))
	require.InDelta(t, 2.5, testutil.ToFloat64(m.profit.WithLabelValues("USDC")), 1e-9)
	require.InDelta(t, 1.5, testutil.ToFloat64(m.payout.WithLabelValues("USDC")), 1e-9, "reverted payouts are not counted")
	require.InDelta(t, 0.9, testutil.ToFloat64(m.premium.WithLabelValues("USDC")), 1e-9)

	require.Equal(t, 0.0, testutil.ToFloat64(m.inCall))
	inCall = true
	require.Equal(t, 1.0, testutil.ToFloat64(m.inCall))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(book(), nil)
	m.RecordExecution(context.Background(), domain.Execution{
		Strategy: domain.StrategyHighFrequency,
		Funding:  domain.FundingCustody,
		Status:   domain.ExecRejected,
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `flashbot_engine_executions_total{funding="custody",status="rejected",strategy="hft"} 1`))
	require.False(t, strings.Contains(body, "flashbot_gate_in_call"))

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
