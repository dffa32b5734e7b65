package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/flashloan"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/sim"
	"github.com/alanyoungcy/flashbot/internal/strategy"
)

var (
	custody  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	payee    = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func units(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

func newEnv() *sim.Env {
	env := sim.NewEnv(5_000)
	cheap := env.AddRouter("cheap", common.HexToAddress("0x00000000000000000000000000000000000000f1"), 30)
	cheap.AddPair(common.HexToAddress("0x00000000000000000000000000000000000000e1"), usdc, weth, units(1_000_000, 6), units(1_000, 18))
	dear := env.AddRouter("dear", common.HexToAddress("0x00000000000000000000000000000000000000f2"), 30)
	dear.AddPair(common.HexToAddress("0x00000000000000000000000000000000000000e2"), usdc, weth, units(1_100_000, 6), units(1_000, 18))
	return env
}

func newEngine(t *testing.T, env *sim.Env, opts ...Option) *Engine {
	t.Helper()
	e, err := New(Config{Custody: custody, Operator: operator, LiquidationMarkupBps: 500, MaxPriceAge: 3_600},
		env.Chain, env.Registry, env.Facility(), discard(), opts...)
	require.NoError(t, err)
	return e
}

func arbitrage(amount *big.Int, funding domain.FundingSource) domain.Maneuver {
	return domain.Maneuver{
		Strategy:    domain.StrategyArbitrage,
		Funding:     funding,
		Asset:       usdc,
		Amount:      amount,
		Cost:        units(1, 6),
		Beneficiary: payee,
		Params: domain.ManeuverParams{Route: []domain.LegPlan{
			{AssetIn: usdc, AssetOut: weth, Venue: "cheap", TolerancePct: 1},
			{AssetIn: weth, AssetOut: usdc, Venue: "dear", TolerancePct: 1},
		}},
	}
}

func TestNewRequiresIdentities(t *testing.T) {
	env := newEnv()
	_, err := New(Config{Operator: operator}, env.Chain, env.Registry, nil, discard())
	require.Error(t, err)
	_, err = New(Config{Custody: custody}, env.Chain, env.Registry, nil, discard())
	require.Error(t, err)
}

func TestExecuteCommitsAndPaysBeneficiary(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(10_000, 6))
	e := newEngine(t, env)

	exec, err := e.Execute(context.Background(), operator, arbitrage(units(10_000, 6), ""))
	require.NoError(t, err)
	require.Equal(t, domain.ExecSucceeded, exec.Status)
	require.Equal(t, domain.FundingCustody, exec.Funding)
	require.NotEmpty(t, exec.ID)
	require.Equal(t, "720649895", exec.Profit.String())
	require.Equal(t, "719649895", exec.Payout.String())
	require.Len(t, exec.Legs, 2)

	require.Equal(t, "719649895", env.Chain.Balance(usdc, payee).String())
	require.Equal(t, "10001000000", env.Chain.Balance(usdc, custody).String())
	require.Zero(t, env.Chain.Balance(weth, custody).Sign())
	require.Equal(t, guard.Idle, e.State())
}

func TestExecuteRevertsOnUnprofitableRoute(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(10_000, 6))
	e := newEngine(t, env)

	m := arbitrage(units(10_000, 6), domain.FundingCustody)
	m.Params.Route[0].Venue, m.Params.Route[1].Venue = "dear", "cheap"

	exec, err := e.Execute(context.Background(), operator, m)
	require.ErrorIs(t, err, domain.ErrUnprofitable)
	require.Equal(t, domain.ExecReverted, exec.Status)
	require.Equal(t, "unprofitable", exec.ErrorKind)
	require.Nil(t, exec.Legs)
	require.Nil(t, exec.Payout)

	require.Equal(t, units(10_000, 6).String(), env.Chain.Balance(usdc, custody).String())
	require.Zero(t, env.Chain.Balance(weth, custody).Sign())
	require.Zero(t, env.Chain.Balance(usdc, payee).Sign())
	require.Equal(t, units(1_000_000, 6).String(), env.Chain.Balance(usdc, common.HexToAddress("0x00000000000000000000000000000000000000e1")).String())
}

func TestExecuteRejectsStranger(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(10_000, 6))
	e := newEngine(t, env)

	exec, err := e.Execute(context.Background(), stranger, arbitrage(units(10_000, 6), domain.FundingCustody))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Equal(t, domain.ExecRejected, exec.Status)
	require.Equal(t, units(10_000, 6).String(), env.Chain.Balance(usdc, custody).String())
}

func TestExecuteValidatesManeuver(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(10, 6))
	e := newEngine(t, env)

	cases := map[string]struct {
		mutate func(*domain.Maneuver)
		kind   error
	}{
		"unknown tag":       {func(m *domain.Maneuver) { m.Strategy = 9 }, domain.ErrUnknownStrategy},
		"zero amount":       {func(m *domain.Maneuver) { m.Amount = new(big.Int) }, domain.ErrInvalidManeuver},
		"negative cost":     {func(m *domain.Maneuver) { m.Cost = big.NewInt(-1) }, domain.ErrInvalidManeuver},
		"no beneficiary":    {func(m *domain.Maneuver) { m.Beneficiary = common.Address{} }, domain.ErrInvalidManeuver},
		"above custody":     {func(m *domain.Maneuver) { m.Amount = units(11, 6) }, domain.ErrInvalidManeuver},
		"unknown funding":   {func(m *domain.Maneuver) { m.Funding = "credit" }, domain.ErrInvalidManeuver},
		"no flash facility": {func(m *domain.Maneuver) { m.Funding = domain.FundingFlashLoan }, domain.ErrInvalidManeuver},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			m := arbitrage(units(10, 6), domain.FundingCustody)
			tc.mutate(&m)
			exec, err := e.Execute(context.Background(), operator, m)
			require.ErrorIs(t, err, tc.kind)
			require.Equal(t, domain.ExecReverted, exec.Status)
		})
	}
}

// nested calls back into the engine from inside a running maneuver.
type nested struct {
	engine *Engine
	err    error
}

func (n *nested) Run(ctx context.Context, call strategy.Call, _ domain.ManeuverParams) (strategy.Outcome, error) {
	_, n.err = n.engine.Execute(ctx, operator, arbitrage(call.Amount, domain.FundingCustody))
	return strategy.Outcome{}, n.err
}

func TestExecuteRefusesReentry(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(10, 6))
	n := &nested{}
	e := newEngine(t, env, WithManeuver(domain.StrategyFrontRun, n))
	n.engine = e

	m := arbitrage(units(10, 6), domain.FundingCustody)
	m.Strategy = domain.StrategyFrontRun
	exec, err := e.Execute(context.Background(), operator, m)
	require.ErrorIs(t, n.err, domain.ErrReentrantCall)
	require.ErrorIs(t, err, domain.ErrReentrantCall)
	require.Equal(t, domain.ExecReverted, exec.Status)
	require.Equal(t, guard.Idle, e.State())

	_, err = e.Execute(context.Background(), stranger, m)
	require.ErrorIs(t, err, domain.ErrUnauthorized, "authorization is checked first")
}

func TestExecuteFlashLoanRepaysFacility(t *testing.T) {
	env := newEnv()
	pool := env.SetFlashPool("flashpool", common.HexToAddress("0x00000000000000000000000000000000000000b0"), 9)
	pool.Fund(usdc, units(1_000_000, 6))
	e := newEngine(t, env)
	require.NotNil(t, e.Receiver())

	m := arbitrage(units(10_000, 6), "")
	m.Cost = nil
	exec, err := e.ExecuteFlashLoan(context.Background(), operator, m)
	require.NoError(t, err)
	require.Equal(t, domain.FundingFlashLoan, exec.Funding)
	require.Equal(t, units(9, 6).String(), exec.Premium.String())
	require.Equal(t, units(10_000, 6).String(), exec.Capital.String())
	require.Equal(t, "711649895", exec.Payout.String())

	require.Equal(t, units(1_000_009, 6).String(), env.Chain.Balance(usdc, pool.Address()).String())
	require.Equal(t, "711649895", env.Chain.Balance(usdc, payee).String())
	require.Zero(t, env.Chain.Balance(usdc, custody).Sign())
}

func TestExecuteFlashLoanRevertsWhenPremiumEatsProfit(t *testing.T) {
	env := newEnv()
	pool := env.SetFlashPool("flashpool", common.HexToAddress("0x00000000000000000000000000000000000000b0"), 900)
	pool.Fund(usdc, units(1_000_000, 6))
	e := newEngine(t, env)

	exec, err := e.ExecuteFlashLoan(context.Background(), operator, arbitrage(units(10_000, 6), ""))
	require.ErrorIs(t, err, domain.ErrUnprofitable)
	require.Equal(t, domain.ExecReverted, exec.Status)
	require.Equal(t, units(1_000_000, 6).String(), env.Chain.Balance(usdc, pool.Address()).String())
	require.Zero(t, env.Chain.Balance(usdc, custody).Sign())
}

func TestExecuteRouteOrder(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(10_000, 6))
	e := newEngine(t, env)

	m := arbitrage(units(10_000, 6), domain.FundingCustody)
	exec, err := e.ExecuteRoute(context.Background(), operator, RouteOrder{
		ID:          "order-1",
		Asset:       usdc,
		Amount:      m.Amount,
		Route:       m.Params.Route,
		Cost:        m.Cost,
		Beneficiary: custody,
	})
	require.NoError(t, err)
	require.Equal(t, "order-1", exec.ID)
	require.Equal(t, domain.StrategyArbitrage, exec.Strategy)
	// Custody as beneficiary keeps the payout in place.
	require.Equal(t, "10720649895", env.Chain.Balance(usdc, custody).String())
}

func TestLiquidateIncentiveMarket(t *testing.T) {
	env := newEnv()
	borrower := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	market := env.AddMarket("ctoken", common.HexToAddress("0x00000000000000000000000000000000000000b2"), usdc, usdc,
		new(big.Int).Div(new(big.Int).Mul(big.NewInt(108), units(1, 18)), big.NewInt(100)), 5_000)
	market.OpenPosition(borrower, units(5_000, 6), units(3_000, 6), big.NewInt(1))
	env.Chain.Mint(usdc, custody, units(1_500, 6))
	e := newEngine(t, env)

	exec, err := e.Liquidate(context.Background(), operator, LiquidationOrder{
		Plan: domain.LiquidationPlan{
			Mechanics:        domain.LiquidationIncentive,
			Protocol:         "ctoken",
			CollateralMarket: market.Address(),
			Position: domain.LiquidationPosition{
				Borrower:        borrower,
				CollateralAsset: usdc,
				DebtAsset:       usdc,
				DebtToCover:     units(1_500, 6),
			},
		},
		Cost:        units(100, 6),
		Beneficiary: payee,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StrategyLiquidation, exec.Strategy)
	require.Equal(t, units(120, 6).String(), exec.Profit.String())
	require.Equal(t, units(20, 6).String(), exec.Payout.String())
	require.Equal(t, units(1_600, 6).String(), env.Chain.Balance(usdc, custody).String())
}

func TestWithdraw(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(100, 6))
	e := newEngine(t, env)
	ctx := context.Background()

	require.ErrorIs(t, e.Withdraw(ctx, stranger, domain.Withdrawal{Asset: usdc, Amount: units(1, 6), To: stranger}), domain.ErrUnauthorized)
	require.ErrorIs(t, e.Withdraw(ctx, operator, domain.Withdrawal{Asset: usdc, Amount: units(1, 6)}), domain.ErrInvalidManeuver)
	require.ErrorIs(t, e.Withdraw(ctx, operator, domain.Withdrawal{Asset: usdc, Amount: units(101, 6), To: payee}), domain.ErrExternalCallFailed)

	require.NoError(t, e.Withdraw(ctx, operator, domain.Withdrawal{Asset: usdc, Amount: units(40, 6), To: payee}))
	require.Equal(t, units(60, 6).String(), env.Chain.Balance(usdc, custody).String())
	require.Equal(t, units(40, 6).String(), env.Chain.Balance(usdc, payee).String())
}

// hookedVenue runs before ahead of every swap on the wrapped venue and counts
// the swaps it forwards.
type hookedVenue struct {
	domain.Venue
	before func(ctx context.Context)
	swaps  int
}

func (v *hookedVenue) Swap(ctx context.Context, caller common.Address, amountIn, minAmountOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error) {
	if v.before != nil {
		v.before(ctx)
	}
	v.swaps++
	return v.Venue.Swap(ctx, caller, amountIn, minAmountOut, path, recipient, deadline)
}

func hook(t *testing.T, env *sim.Env, name string, before func(ctx context.Context)) *hookedVenue {
	t.Helper()
	inner, ok := env.Registry.Venue(name)
	require.True(t, ok)
	v := &hookedVenue{Venue: inner, before: before}
	env.Registry.AddVenue(v)
	return v
}

func TestVenueCallbackCannotReenter(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(10_000, 6))
	e := newEngine(t, env)

	var nestedErr error
	hook(t, env, "cheap", func(ctx context.Context) {
		_, nestedErr = e.Execute(ctx, operator, arbitrage(units(10_000, 6), domain.FundingCustody))
	})

	exec, err := e.Execute(context.Background(), operator, arbitrage(units(10_000, 6), domain.FundingCustody))
	require.ErrorIs(t, nestedErr, domain.ErrReentrantCall)
	require.NoError(t, err)
	require.Equal(t, "719649895", exec.Payout.String(), "only the outer maneuver ran")
	require.Equal(t, guard.Idle, e.State())
}

func TestVenueCallbackCannotReenterLoanCallback(t *testing.T) {
	env := newEnv()
	pool := env.SetFlashPool("flashpool", common.HexToAddress("0x00000000000000000000000000000000000000b0"), 9)
	pool.Fund(usdc, units(1_000_000, 6))
	e := newEngine(t, env)

	m := arbitrage(units(10_000, 6), domain.FundingFlashLoan)
	m.Cost = nil
	payload, err := flashloan.EncodePayload(m.Strategy, m.Params)
	require.NoError(t, err)

	var nestedOK bool
	var nestedErr error
	hook(t, env, "cheap", func(ctx context.Context) {
		nestedOK, nestedErr = e.Receiver().OnLoanReceived(ctx, pool.Address(), usdc, units(10_000, 6), units(9, 6), custody, payload)
	})

	exec, err := e.ExecuteFlashLoan(context.Background(), operator, m)
	require.False(t, nestedOK)
	require.ErrorIs(t, nestedErr, domain.ErrReentrantCall)
	require.NoError(t, err)
	require.Equal(t, "711649895", exec.Payout.String())
	require.Equal(t, "711649895", env.Chain.Balance(usdc, payee).String())
}

func TestVenueMinimumRefusalIsSlippage(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(10_000, 6))
	e := newEngine(t, env)

	dearPair := common.HexToAddress("0x00000000000000000000000000000000000000e2")
	hook(t, env, "dear", func(context.Context) {
		// Moves the price between quote and swap.
		env.Chain.Mint(weth, dearPair, units(50, 18))
	})

	exec, err := e.Execute(context.Background(), operator, arbitrage(units(10_000, 6), domain.FundingCustody))
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)
	require.Equal(t, "dear", domain.ComponentOf(err))
	require.Equal(t, "slippage_exceeded", exec.ErrorKind)

	require.Equal(t, units(10_000, 6).String(), env.Chain.Balance(usdc, custody).String())
	require.Zero(t, env.Chain.Balance(weth, custody).Sign())
	require.Equal(t, units(1_000, 18).String(), env.Chain.Balance(weth, dearPair).String())
}

func TestRouteFailureSkipsLaterLegs(t *testing.T) {
	env := newEnv()
	dai := common.HexToAddress("0x00000000000000000000000000000000000000a3")
	midPair := common.HexToAddress("0x00000000000000000000000000000000000000e3")
	exitPair := common.HexToAddress("0x00000000000000000000000000000000000000e4")
	env.AddRouter("mid", common.HexToAddress("0x00000000000000000000000000000000000000f3"), 30).
		AddPair(midPair, weth, dai, units(1_000, 18), units(1_100_000, 18))
	env.AddRouter("exit", common.HexToAddress("0x00000000000000000000000000000000000000f4"), 30).
		AddPair(exitPair, dai, usdc, units(1_000_000, 18), units(1_000_000, 6))
	env.Chain.Mint(usdc, custody, units(10_000, 6))
	e := newEngine(t, env)

	hook(t, env, "mid", func(context.Context) {
		env.Chain.Mint(weth, midPair, units(500, 18))
	})
	exit := hook(t, env, "exit", nil)

	m := arbitrage(units(10_000, 6), domain.FundingCustody)
	m.Params.Route = []domain.LegPlan{
		{AssetIn: usdc, AssetOut: weth, Venue: "cheap", TolerancePct: 1},
		{AssetIn: weth, AssetOut: dai, Venue: "mid", TolerancePct: 1},
		{AssetIn: dai, AssetOut: usdc, Venue: "exit", TolerancePct: 1},
	}
	_, err := e.Execute(context.Background(), operator, m)
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)
	require.Equal(t, "mid", domain.ComponentOf(err))
	require.Zero(t, exit.swaps, "no leg after the failing one may run")

	require.Equal(t, units(10_000, 6).String(), env.Chain.Balance(usdc, custody).String())
	require.Zero(t, env.Chain.Balance(weth, custody).Sign())
	require.Zero(t, env.Chain.Balance(dai, custody).Sign())
	require.Equal(t, units(1_000_000, 6).String(), env.Chain.Balance(usdc, common.HexToAddress("0x00000000000000000000000000000000000000e1")).String())
	require.Equal(t, units(1_000, 18).String(), env.Chain.Balance(weth, midPair).String())
}

func TestExpiredLegRevertsManeuver(t *testing.T) {
	env := newEnv()
	env.Chain.Mint(usdc, custody, units(10_000, 6))
	e := newEngine(t, env)

	hook(t, env, "dear", func(context.Context) {
		env.Chain.Advance(DefaultDeadlineHorizon + 1)
	})

	exec, err := e.Execute(context.Background(), operator, arbitrage(units(10_000, 6), domain.FundingCustody))
	require.ErrorIs(t, err, domain.ErrExternalCallFailed)
	require.ErrorIs(t, err, sim.ErrExpired)
	require.Equal(t, "dear", domain.ComponentOf(err))
	require.Equal(t, domain.ExecReverted, exec.Status)
	require.Equal(t, units(10_000, 6).String(), env.Chain.Balance(usdc, custody).String())
	require.Zero(t, env.Chain.Balance(weth, custody).Sign())
}
