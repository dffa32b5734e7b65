package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flashbot/internal/sim"
)

// ForkSpec names the live contracts to copy into a simulated environment.
// Position sizes are supplied by the caller; the fork reads only the
// protocol's own view of each borrower.
type ForkSpec struct {
	Now       uint64
	Custody   common.Address
	Assets    []common.Address
	Venues    []VenueSpec
	Feeds     []FeedSpec
	FlashPool *FlashPoolSpec
	Pools     []PoolSpec
	Markets   []MarketSpec
}

// VenueSpec is a router and the pairs to copy.
type VenueSpec struct {
	Name   string
	Router common.Address
	FeeBps uint64
	Pairs  []common.Address
}

// FeedSpec is an aggregator and the asset it prices.
type FeedSpec struct {
	Name    string
	Address common.Address
	Asset   common.Address
}

// FlashPoolSpec is a flash-loan pool. Liquidity is the pool's token balance.
type FlashPoolSpec struct {
	Name    string
	Address common.Address
	Assets  []common.Address
}

// PoolSpec is a pool-style lending protocol.
type PoolSpec struct {
	Name           string
	Address        common.Address
	BonusBps       uint64
	CloseFactorBps uint64
	Prices         map[common.Address]*big.Int
	Positions      []PoolPosition
}

// PoolPosition is a borrow to copy; the health factor is read live.
type PoolPosition struct {
	Borrower        common.Address
	CollateralAsset common.Address
	Collateral      *big.Int
	DebtAsset       common.Address
	Debt            *big.Int
}

// MarketSpec is an incentive-style market behind a comptroller.
type MarketSpec struct {
	Name            string
	Address         common.Address
	Comptroller     common.Address
	DebtAsset       common.Address
	CollateralAsset common.Address
	CloseFactorBps  uint64
	Positions       []MarketPosition
}

// MarketPosition is a borrow to copy; the shortfall is read live.
type MarketPosition struct {
	Borrower   common.Address
	Collateral *big.Int
	Debt       *big.Int
}

// Forker seeds simulated environments from live chain state.
type Forker struct {
	client *Client
	logger *slog.Logger
}

// NewForker creates a forker reading through client.
func NewForker(client *Client, logger *slog.Logger) *Forker {
	return &Forker{client: client, logger: logger.With(slog.String("component", "forker"))}
}

// pairRead is one pair fetched concurrently.
type pairRead struct {
	venue int
	state PairState
}

// Fork reads everything spec names and returns a fresh environment holding
// the same state.
func (f *Forker) Fork(ctx context.Context, spec ForkSpec) (*sim.Env, error) {
	env := sim.NewEnv(spec.Now)

	// Pair reads dominate; fetch them concurrently.
	var reads []pairRead
	for i, v := range spec.Venues {
		for range v.Pairs {
			reads = append(reads, pairRead{venue: i})
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	n := 0
	for _, v := range spec.Venues {
		for _, p := range v.Pairs {
			idx, pair := n, p
			n++
			g.Go(func() error {
				st, err := f.client.Pair(gctx, pair)
				if err != nil {
					return fmt.Errorf("pair %s: %w", pair.Hex(), err)
				}
				reads[idx].state = st
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evm: fork: %w", err)
	}

	routers := make([]*sim.Router, len(spec.Venues))
	for i, v := range spec.Venues {
		routers[i] = env.AddRouter(v.Name, v.Router, v.FeeBps)
	}
	for _, r := range reads {
		st := r.state
		routers[r.venue].AddPair(st.Address, st.Token0, st.Token1, st.Reserve0, st.Reserve1)
	}

	for _, fs := range spec.Feeds {
		round, err := f.client.LatestRound(ctx, fs.Address)
		if err != nil {
			return nil, fmt.Errorf("evm: fork: feed %s: %w", fs.Name, err)
		}
		feed := env.AddFeed(fs.Name, round.Decimals, fs.Asset)
		feed.SetRound(round)
	}

	for _, asset := range spec.Assets {
		bal, err := f.client.BalanceOf(ctx, asset, spec.Custody)
		if err != nil {
			return nil, fmt.Errorf("evm: fork: custody balance: %w", err)
		}
		env.Chain.Mint(asset, spec.Custody, bal)
	}

	if fp := spec.FlashPool; fp != nil {
		premium, err := f.client.FlashLoanPremiumBps(ctx, fp.Address)
		if err != nil {
			return nil, fmt.Errorf("evm: fork: flash premium: %w", err)
		}
		pool := env.SetFlashPool(fp.Name, fp.Address, premium)
		for _, asset := range fp.Assets {
			liq, err := f.client.BalanceOf(ctx, asset, fp.Address)
			if err != nil {
				return nil, fmt.Errorf("evm: fork: flash liquidity: %w", err)
			}
			pool.Fund(asset, liq)
		}
	}

	for _, ps := range spec.Pools {
		pool := env.AddLendingPool(ps.Name, ps.Address, ps.BonusBps, ps.CloseFactorBps)
		for asset, price := range ps.Prices {
			pool.SetPrice(asset, price)
		}
		for _, pos := range ps.Positions {
			hf, err := f.client.HealthFactor(ctx, ps.Address, pos.Borrower)
			if err != nil {
				return nil, fmt.Errorf("evm: fork: health factor: %w", err)
			}
			pool.OpenPosition(pos.Borrower, pos.CollateralAsset, pos.Collateral, pos.DebtAsset, pos.Debt, hf)
		}
	}

	for _, ms := range spec.Markets {
		incentive, err := f.client.LiquidationIncentive(ctx, ms.Comptroller)
		if err != nil {
			return nil, fmt.Errorf("evm: fork: incentive: %w", err)
		}
		market := env.AddMarket(ms.Name, ms.Address, ms.DebtAsset, ms.CollateralAsset, incentive, ms.CloseFactorBps)
		for _, pos := range ms.Positions {
			shortfall, err := f.client.Shortfall(ctx, ms.Comptroller, pos.Borrower)
			if err != nil {
				return nil, fmt.Errorf("evm: fork: shortfall: %w", err)
			}
			market.OpenPosition(pos.Borrower, pos.Collateral, pos.Debt, shortfall)
		}
	}

	f.logger.Info("forked chain state",
		slog.Int("venues", len(spec.Venues)),
		slog.Int("pairs", len(reads)),
		slog.Int("feeds", len(spec.Feeds)),
		slog.Int("pools", len(spec.Pools)),
		slog.Int("markets", len(spec.Markets)),
	)
	return env, nil
}

// CheckQuotes compares each venue's simulated quote with the live router for
// a probe amount over each pair and logs any divergence.
func (f *Forker) CheckQuotes(ctx context.Context, env *sim.Env, probe *big.Int) {
	for name, r := range env.Routers {
		for _, p := range r.Pairs() {
			path := []common.Address{p.Token0, p.Token1}
			live, err := f.client.AmountsOut(ctx, r.Address(), probe, path)
			if err != nil {
				f.logger.Warn("live quote failed", slog.String("venue", name), slog.String("error", err.Error()))
				continue
			}
			simulated, err := r.Quote(ctx, probe, path)
			if err != nil {
				f.logger.Warn("sim quote failed", slog.String("venue", name), slog.String("error", err.Error()))
				continue
			}
			if got := live[len(live)-1]; got.Cmp(simulated) != 0 {
				f.logger.Warn("quote divergence",
					slog.String("venue", name),
					slog.String("pair", p.Address.Hex()),
					slog.String("live", got.String()),
					slog.String("sim", simulated.String()),
				)
			}
		}
	}
}
