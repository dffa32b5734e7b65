package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/liquidation"
	"github.com/alanyoungcy/flashbot/internal/route"
	"github.com/alanyoungcy/flashbot/internal/sim"
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	usdc    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

const now = 5_000

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func units(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

// newEnv deploys two venues pricing WETH at 1000 and 1100 USDC.
func newEnv(t *testing.T) (*sim.Env, Maneuvers) {
	t.Helper()
	env := sim.NewEnv(now)
	cheap := env.AddRouter("cheap", common.HexToAddress("0x00000000000000000000000000000000000000f1"), 30)
	cheap.AddPair(common.HexToAddress("0x00000000000000000000000000000000000000e1"), usdc, weth, units(1_000_000, 6), units(1_000, 18))
	dear := env.AddRouter("dear", common.HexToAddress("0x00000000000000000000000000000000000000f2"), 30)
	dear.AddPair(common.HexToAddress("0x00000000000000000000000000000000000000e2"), usdc, weth, units(1_100_000, 6), units(1_000, 18))
	feed := env.AddFeed("eth-usd", 8, weth)
	feed.SetPrice(units(1_050, 8), now)

	env.Chain.Mint(usdc, custody, units(10_000, 6))

	allowances := guard.NewAllowances(env.Chain, custody)
	composer := route.NewComposer(route.NewLegExecutor(env.Chain, env.Registry, allowances, custody, discard()), discard())
	est := liquidation.NewEstimator(env.Registry, env.Chain, 500, 3_600)
	liq := liquidation.NewLiquidator(env.Chain, env.Registry, est, allowances, custody, discard())
	return env, Standard(composer, liq, env.Registry, env.Chain, 3_600)
}

func buyCheap() []domain.LegPlan {
	return []domain.LegPlan{{AssetIn: usdc, AssetOut: weth, Venue: "cheap", TolerancePct: 1}}
}

func sellDear() []domain.LegPlan {
	return []domain.LegPlan{{AssetIn: weth, AssetOut: usdc, Venue: "dear", TolerancePct: 1}}
}

func call(amount *big.Int) Call {
	return Call{Asset: usdc, Amount: amount, Cost: units(1, 6), Deadline: now + 60}
}

func TestArbitrage(t *testing.T) {
	env, m := newEnv(t)

	out, err := m.Arbitrage.Run(context.Background(), call(units(10_000, 6)), domain.ManeuverParams{
		Route: append(buyCheap(), sellDear()...),
	})
	require.NoError(t, err)
	require.Equal(t, "720649895", out.Profit.String())
	require.Equal(t, "719649895", out.Payout.String())
	require.Len(t, out.Legs, 2)
	require.Equal(t, "10720649895", env.Chain.Balance(usdc, custody).String())
}

func TestArbitrageWrongWayIsUnprofitable(t *testing.T) {
	_, m := newEnv(t)

	_, err := m.Arbitrage.Run(context.Background(), call(units(10_000, 6)), domain.ManeuverParams{
		Route: []domain.LegPlan{
			{AssetIn: usdc, AssetOut: weth, Venue: "dear", TolerancePct: 1},
			{AssetIn: weth, AssetOut: usdc, Venue: "cheap", TolerancePct: 1},
		},
	})
	require.ErrorIs(t, err, domain.ErrUnprofitable)
}

func TestArbitrageRouteMustCycle(t *testing.T) {
	_, m := newEnv(t)

	_, err := m.Arbitrage.Run(context.Background(), call(units(10_000, 6)), domain.ManeuverParams{Route: buyCheap()})
	require.ErrorIs(t, err, domain.ErrInvalidRoute)
}

func TestFrontRunUnwindsPosition(t *testing.T) {
	_, m := newEnv(t)

	out, err := m.FrontRun.Run(context.Background(), call(units(10_000, 6)), domain.ManeuverParams{
		Route: buyCheap(),
		Exit:  sellDear(),
	})
	require.NoError(t, err)
	require.Equal(t, "720649895", out.Profit.String())
	require.Len(t, out.Legs, 2)
}

func TestSandwichCommitsFrontShare(t *testing.T) {
	_, m := newEnv(t)

	out, err := m.Sandwich.Run(context.Background(), call(units(10_000, 6)), domain.ManeuverParams{
		Route:    buyCheap(),
		Exit:     sellDear(),
		FrontBps: 2_500,
	})
	require.NoError(t, err)
	require.Equal(t, units(2_500, 6).String(), out.Initial.String())
	require.Equal(t, "219985958", out.Profit.String())
}

func TestSandwichFrontBpsBounds(t *testing.T) {
	_, m := newEnv(t)
	for _, bps := range []uint64{0, 10_001} {
		_, err := m.Sandwich.Run(context.Background(), call(units(10_000, 6)), domain.ManeuverParams{
			Route:    buyCheap(),
			Exit:     sellDear(),
			FrontBps: bps,
		})
		require.ErrorIs(t, err, domain.ErrInvalidManeuver)
	}
}

func TestHighFrequencyTrigger(t *testing.T) {
	_, m := newEnv(t)
	params := domain.ManeuverParams{Route: append(buyCheap(), sellDear()...)}

	_, err := m.HighFrequency.Run(context.Background(), call(units(10_000, 6)), params)
	require.ErrorIs(t, err, domain.ErrInvalidManeuver)

	params.Trigger = &domain.PriceTrigger{Feed: "btc-usd"}
	_, err = m.HighFrequency.Run(context.Background(), call(units(10_000, 6)), params)
	require.ErrorIs(t, err, domain.ErrOracleUnavailable)

	params.Trigger = &domain.PriceTrigger{Feed: "eth-usd", MinPrice: units(1_100, 8)}
	_, err = m.HighFrequency.Run(context.Background(), call(units(10_000, 6)), params)
	require.ErrorIs(t, err, domain.ErrUnprofitable)

	params.Trigger = &domain.PriceTrigger{Feed: "eth-usd", MinPrice: units(1_000, 8), MaxPrice: units(1_100, 8)}
	out, err := m.HighFrequency.Run(context.Background(), call(units(10_000, 6)), params)
	require.NoError(t, err)
	require.Equal(t, "720649895", out.Profit.String())
}

type stubManeuver struct {
	name string
	hits *[]string
	err  error
}

func (s stubManeuver) Run(context.Context, Call, domain.ManeuverParams) (Outcome, error) {
	*s.hits = append(*s.hits, s.name)
	return Outcome{}, s.err
}

func TestDispatcherRoutesEveryTag(t *testing.T) {
	var hits []string
	boom := errors.New("boom")
	d, err := NewDispatcher(Maneuvers{
		Arbitrage:     stubManeuver{name: "arbitrage", hits: &hits},
		Liquidation:   stubManeuver{name: "liquidation", hits: &hits},
		FrontRun:      stubManeuver{name: "frontrun", hits: &hits},
		Sandwich:      stubManeuver{name: "sandwich", hits: &hits},
		HighFrequency: stubManeuver{name: "hft", hits: &hits, err: boom},
	}, discard())
	require.NoError(t, err)

	c := call(big.NewInt(1))
	for _, tag := range domain.StrategyTags {
		_, err := d.Dispatch(context.Background(), tag, c, domain.ManeuverParams{})
		if tag == domain.StrategyHighFrequency {
			require.ErrorIs(t, err, boom)
			continue
		}
		require.NoError(t, err)
	}
	require.Equal(t, []string{"arbitrage", "liquidation", "frontrun", "sandwich", "hft"}, hits)

	_, err = d.Dispatch(context.Background(), domain.StrategyTag(0), c, domain.ManeuverParams{})
	require.ErrorIs(t, err, domain.ErrUnknownStrategy)
	_, err = d.Dispatch(context.Background(), domain.StrategyTag(6), c, domain.ManeuverParams{})
	require.ErrorIs(t, err, domain.ErrUnknownStrategy)
	require.Len(t, hits, 5)
}

func TestDispatcherNeedsAllManeuvers(t *testing.T) {
	_, err := NewDispatcher(Maneuvers{}, discard())
	require.Error(t, err)
}

func TestLiquidationManeuverChecksPlan(t *testing.T) {
	_, m := newEnv(t)

	_, err := m.Liquidation.Run(context.Background(), call(units(10, 6)), domain.ManeuverParams{})
	require.ErrorIs(t, err, domain.ErrInvalidManeuver)

	plan := &domain.LiquidationPlan{
		Mechanics: domain.LiquidationPool,
		Protocol:  "aave",
		Position: domain.LiquidationPosition{
			CollateralAsset: weth,
			DebtAsset:       usdc,
			DebtToCover:     units(20, 6),
		},
	}
	_, err = m.Liquidation.Run(context.Background(), call(units(10, 6)), domain.ManeuverParams{Liquidation: plan})
	require.ErrorIs(t, err, domain.ErrInvalidManeuver, "debt to cover above capital")

	plan.Position.DebtToCover = units(5, 6)
	_, err = m.Liquidation.Run(context.Background(), call(units(10, 6)), domain.ManeuverParams{Liquidation: plan})
	require.ErrorIs(t, err, domain.ErrInvalidRoute, "collateral needs a swap back")
}
