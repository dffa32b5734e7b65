package app

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/config"
	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/platform/evm"
	"github.com/alanyoungcy/flashbot/internal/sim"
)

// parser reads config strings, keeping the first error.
type parser struct {
	err error
}

func (p *parser) amount(field, s string) *big.Int {
	v, err := config.ParseAmount(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", field, err)
	}
	if v == nil {
		return new(big.Int)
	}
	return v
}

func addr(s string) common.Address { return common.HexToAddress(s) }

// AssetBook builds the display metadata for configured assets.
func AssetBook(cfg *config.Config) domain.AssetBook {
	book := make(domain.AssetBook, len(cfg.Assets))
	for _, a := range cfg.Assets {
		book[addr(a.Address)] = domain.Asset{
			Symbol:   a.Symbol,
			Address:  addr(a.Address),
			Decimals: a.Decimals,
		}
	}
	return book
}

// SeedEnv builds a simulated environment entirely from the config file:
// custody balances, venues with their reserves, feeds, the flash pool and
// the lending positions.
func SeedEnv(cfg *config.Config, now uint64) (*sim.Env, error) {
	var p parser
	env := sim.NewEnv(now)
	custody := addr(cfg.Engine.Custody)

	for _, a := range cfg.Assets {
		env.Chain.Mint(addr(a.Address), custody, p.amount("assets "+a.Symbol, a.Custody))
	}

	for _, v := range cfg.Venues {
		r := env.AddRouter(v.Name, addr(v.Address), v.FeeBps)
		for _, pair := range v.Pairs {
			r.AddPair(addr(pair.Address), addr(pair.TokenA), addr(pair.TokenB),
				p.amount(v.Name+" reserve_a", pair.ReserveA),
				p.amount(v.Name+" reserve_b", pair.ReserveB),
			)
		}
	}

	for _, f := range cfg.Feeds {
		feed := env.AddFeed(f.Name, f.Decimals, addr(f.Asset))
		if f.Price != "" {
			feed.SetPrice(p.amount("feed "+f.Name, f.Price), now)
		}
	}

	if fl := cfg.FlashLoan; fl.Enabled {
		pool := env.SetFlashPool(fl.Name, addr(fl.Address), fl.PremiumBps)
		for asset, amount := range fl.Liquidity {
			pool.Fund(addr(asset), p.amount("flashloan liquidity", amount))
		}
	}

	for _, pc := range cfg.Liquidation.Pools {
		pool := env.AddLendingPool(pc.Name, addr(pc.Address), pc.BonusBps, pc.CloseFactorBps)
		for asset, price := range pc.Prices {
			pool.SetPrice(addr(asset), p.amount(pc.Name+" price", price))
		}
		for _, pos := range pc.Positions {
			pool.OpenPosition(addr(pos.Borrower),
				addr(pos.CollateralAsset), p.amount(pc.Name+" collateral", pos.Collateral),
				addr(pos.DebtAsset), p.amount(pc.Name+" debt", pos.Debt),
				p.amount(pc.Name+" health_factor", pos.HealthFactor),
			)
		}
	}

	for _, mc := range cfg.Liquidation.Markets {
		market := env.AddMarket(mc.Name, addr(mc.Address), addr(mc.DebtAsset), addr(mc.CollateralAsset),
			p.amount(mc.Name+" incentive", mc.Incentive), mc.CloseFactorBps)
		for _, pos := range mc.Positions {
			market.OpenPosition(addr(pos.Borrower),
				p.amount(mc.Name+" collateral", pos.Collateral),
				p.amount(mc.Name+" debt", pos.Debt),
				p.amount(mc.Name+" shortfall", pos.Shortfall),
			)
		}
	}

	if p.err != nil {
		return nil, fmt.Errorf("seed env: %w", p.err)
	}
	return env, nil
}

// ForkSpec converts the config into the set of live contracts to copy.
// Reserves, feed answers, custody balances, flash liquidity, health factors,
// incentives and shortfalls are read from chain; the rest comes from config.
func ForkSpec(cfg *config.Config, now uint64) (evm.ForkSpec, error) {
	var p parser
	spec := evm.ForkSpec{
		Now:     now,
		Custody: addr(cfg.Engine.Custody),
	}
	for _, a := range cfg.Assets {
		spec.Assets = append(spec.Assets, addr(a.Address))
	}
	for _, v := range cfg.Venues {
		vs := evm.VenueSpec{Name: v.Name, Router: addr(v.Address), FeeBps: v.FeeBps}
		for _, pair := range v.Pairs {
			vs.Pairs = append(vs.Pairs, addr(pair.Address))
		}
		spec.Venues = append(spec.Venues, vs)
	}
	for _, f := range cfg.Feeds {
		spec.Feeds = append(spec.Feeds, evm.FeedSpec{Name: f.Name, Address: addr(f.Address), Asset: addr(f.Asset)})
	}
	if fl := cfg.FlashLoan; fl.Enabled {
		fp := &evm.FlashPoolSpec{Name: fl.Name, Address: addr(fl.Address)}
		for asset := range fl.Liquidity {
			fp.Assets = append(fp.Assets, addr(asset))
		}
		spec.FlashPool = fp
	}
	for _, pc := range cfg.Liquidation.Pools {
		ps := evm.PoolSpec{
			Name:           pc.Name,
			Address:        addr(pc.Address),
			BonusBps:       pc.BonusBps,
			CloseFactorBps: pc.CloseFactorBps,
			Prices:         make(map[common.Address]*big.Int, len(pc.Prices)),
		}
		for asset, price := range pc.Prices {
			ps.Prices[addr(asset)] = p.amount(pc.Name+" price", price)
		}
		for _, pos := range pc.Positions {
			ps.Positions = append(ps.Positions, evm.PoolPosition{
				Borrower:        addr(pos.Borrower),
				CollateralAsset: addr(pos.CollateralAsset),
				Collateral:      p.amount(pc.Name+" collateral", pos.Collateral),
				DebtAsset:       addr(pos.DebtAsset),
				Debt:            p.amount(pc.Name+" debt", pos.Debt),
			})
		}
		spec.Pools = append(spec.Pools, ps)
	}
	for _, mc := range cfg.Liquidation.Markets {
		ms := evm.MarketSpec{
			Name:            mc.Name,
			Address:         addr(mc.Address),
			Comptroller:     addr(mc.Comptroller),
			DebtAsset:       addr(mc.DebtAsset),
			CollateralAsset: addr(mc.CollateralAsset),
			CloseFactorBps:  mc.CloseFactorBps,
		}
		for _, pos := range mc.Positions {
			ms.Positions = append(ms.Positions, evm.MarketPosition{
				Borrower:   addr(pos.Borrower),
				Collateral: p.amount(mc.Name+" collateral", pos.Collateral),
				Debt:       p.amount(mc.Name+" debt", pos.Debt),
			})
		}
		spec.Markets = append(spec.Markets, ms)
	}
	if p.err != nil {
		return evm.ForkSpec{}, fmt.Errorf("fork spec: %w", p.err)
	}
	return spec, nil
}
