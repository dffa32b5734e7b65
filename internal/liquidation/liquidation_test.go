package liquidation

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/sim"
)

var (
	custody  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	borrower = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	poolAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	mktAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f2")
)

const now = 10_000

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// countingMarket records whether the protocol was ever asked to liquidate.
type countingMarket struct {
	*sim.IncentiveMarket
	liquidations int
}

func (m *countingMarket) LiquidateBorrow(ctx context.Context, caller, b common.Address, repay *big.Int, collateralMarket common.Address) (uint64, error) {
	m.liquidations++
	return m.IncentiveMarket.LiquidateBorrow(ctx, caller, b, repay, collateralMarket)
}

type fixture struct {
	env    *sim.Env
	pool   *sim.LendingPool
	market *countingMarket
	liq    *Liquidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := sim.NewEnv(now)

	feed := env.AddFeed("eth-usd", 8, weth)
	feed.SetPrice(big.NewInt(2_000_00000000), now)

	pool := env.AddLendingPool("aave", poolAddr, 500, 5_000)
	pool.SetPrice(usdc, sim.WadOne)
	pool.SetPrice(weth, new(big.Int).Mul(sim.WadOne, big.NewInt(2)))
	pool.OpenPosition(borrower, weth, big.NewInt(1_000), usdc, big.NewInt(1_000), big.NewInt(9e17))

	incentive, _ := new(big.Int).SetString("1080000000000000000", 10)
	market := &countingMarket{IncentiveMarket: sim.NewIncentiveMarket(env.Chain, "comp", mktAddr, usdc, weth, incentive, 5_000)}
	market.OpenPosition(borrower, big.NewInt(10_000), big.NewInt(10_000), big.NewInt(1))
	env.Registry.AddIncentiveMarket(market)

	env.Chain.Mint(usdc, custody, big.NewInt(5_000))

	est := NewEstimator(env.Registry, env.Chain, 500, 3_600)
	liq := NewLiquidator(env.Chain, env.Registry, est, guard.NewAllowances(env.Chain, custody), custody, discard())
	return &fixture{env: env, pool: pool, market: market, liq: liq}
}

func incentivePlan(repay int64) domain.LiquidationPlan {
	return domain.LiquidationPlan{
		Mechanics:        domain.LiquidationIncentive,
		Protocol:         "comp",
		CollateralMarket: mktAddr,
		Position: domain.LiquidationPosition{
			Borrower:        borrower,
			CollateralAsset: weth,
			DebtAsset:       usdc,
			DebtToCover:     big.NewInt(repay),
		},
	}
}

func poolPlan(cover int64) domain.LiquidationPlan {
	return domain.LiquidationPlan{
		Mechanics: domain.LiquidationPool,
		Protocol:  "aave",
		Position: domain.LiquidationPosition{
			Borrower:        borrower,
			CollateralAsset: weth,
			DebtAsset:       usdc,
			DebtToCover:     big.NewInt(cover),
		},
	}
}

func TestUnprofitableEstimateSkipsProtocol(t *testing.T) {
	f := newFixture(t)

	// seize = 1500 * 1.08 = 1620, profit 120 against a cost of 150.
	_, err := f.liq.Liquidate(context.Background(), incentivePlan(1_500), big.NewInt(150))
	require.ErrorIs(t, err, domain.ErrUnprofitable)
	require.Zero(t, f.market.liquidations)
	require.Equal(t, int64(10_000), f.market.Debt(borrower).Int64())
	require.Equal(t, int64(5_000), f.env.Chain.Balance(usdc, custody).Int64())
}

func TestIncentiveLiquidation(t *testing.T) {
	f := newFixture(t)

	res, err := f.liq.Liquidate(context.Background(), incentivePlan(1_500), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, 1, f.market.liquidations)
	require.Equal(t, int64(1_620), res.Seized.Int64())
	require.Equal(t, int64(1_620), res.Estimate.SeizeAmount.Int64())
	require.Equal(t, int64(120), res.Estimate.Profit.Int64())
	require.Equal(t, weth, res.CollateralAsset)
	require.Equal(t, int64(3_500), f.env.Chain.Balance(usdc, custody).Int64())
	require.Equal(t, int64(1_620), f.env.Chain.Balance(weth, custody).Int64())
}

func TestIncentiveRejectedByProtocol(t *testing.T) {
	f := newFixture(t)
	plan := incentivePlan(1_500)
	plan.CollateralMarket = poolAddr

	_, err := f.liq.Liquidate(context.Background(), plan, nil)
	require.ErrorIs(t, err, domain.ErrLiquidationFailed)
	require.Equal(t, "comp", domain.ComponentOf(err))
}

func TestPoolEstimate(t *testing.T) {
	f := newFixture(t)
	est := NewEstimator(f.env.Registry, f.env.Chain, 500, 3_600)

	got, err := est.Pool(context.Background(), "aave", poolPlan(400).Position)
	require.NoError(t, err)
	// 2000 * 400 = 800000 collateral value, 5% markup.
	require.Equal(t, int64(800_000), got.CollateralValue.Int64())
	require.Equal(t, int64(40_000), got.Profit.Int64())
	require.NotNil(t, got.Round)
}

func TestPoolEstimateStalePrice(t *testing.T) {
	f := newFixture(t)
	f.env.Chain.SetTime(now + 3_601)

	_, err := f.liq.Liquidate(context.Background(), poolPlan(400), nil)
	require.ErrorIs(t, err, domain.ErrOracleUnavailable)
	require.Equal(t, "eth-usd", domain.ComponentOf(err))
}

func TestPoolLiquidation(t *testing.T) {
	f := newFixture(t)

	res, err := f.liq.Liquidate(context.Background(), poolPlan(400), big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, int64(210), res.Seized.Int64())
	require.Equal(t, int64(600), f.pool.Debt(borrower, usdc).Int64())
	require.Equal(t, int64(4_600), f.env.Chain.Balance(usdc, custody).Int64())
}

func TestPoolLiquidationRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.liq.Liquidate(context.Background(), poolPlan(600), nil)
	require.ErrorIs(t, err, domain.ErrLiquidationFailed)
	require.ErrorIs(t, err, sim.ErrCoverTooLarge)
}

func TestPoolHealthyBorrower(t *testing.T) {
	f := newFixture(t)
	f.pool.OpenPosition(borrower, weth, big.NewInt(0), usdc, big.NewInt(0), sim.WadOne)

	_, err := f.liq.Liquidate(context.Background(), poolPlan(400), nil)
	require.ErrorIs(t, err, domain.ErrLiquidationFailed)
}

func TestLiquidateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.liq.Liquidate(ctx, poolPlan(0), nil)
	require.ErrorIs(t, err, domain.ErrInvalidManeuver)

	plan := poolPlan(1)
	plan.Mechanics = "dutch"
	_, err = f.liq.Liquidate(ctx, plan, nil)
	require.ErrorIs(t, err, domain.ErrInvalidManeuver)

	plan = poolPlan(1)
	plan.Protocol = "euler"
	_, err = f.liq.Liquidate(ctx, plan, nil)
	require.ErrorIs(t, err, domain.ErrInvalidManeuver)
}
