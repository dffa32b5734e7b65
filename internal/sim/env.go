package sim

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Env is a chain with the protocols deployed on it, registered by name so
// the core can resolve them.
type Env struct {
	Chain    *Chain
	Registry *domain.Registry
	Routers  map[string]*Router
	Pools    map[string]*LendingPool
	Markets  map[string]*IncentiveMarket
	Feeds    map[string]*Feed
	Flash    *FlashPool
}

// NewEnv creates an empty environment whose clock starts at now.
func NewEnv(now uint64) *Env {
	return &Env{
		Chain:    NewChain(now),
		Registry: domain.NewRegistry(),
		Routers:  make(map[string]*Router),
		Pools:    make(map[string]*LendingPool),
		Markets:  make(map[string]*IncentiveMarket),
		Feeds:    make(map[string]*Feed),
	}
}

// AddRouter deploys a venue.
func (e *Env) AddRouter(name string, address common.Address, feeBps uint64) *Router {
	r := NewRouter(e.Chain, name, address, feeBps)
	e.Routers[name] = r
	e.Registry.AddVenue(r)
	return r
}

// AddLendingPool deploys a pool-style lending protocol.
func (e *Env) AddLendingPool(name string, address common.Address, bonusBps, closeFactorBps uint64) *LendingPool {
	p := NewLendingPool(e.Chain, name, address, bonusBps, closeFactorBps)
	e.Pools[name] = p
	e.Registry.AddPoolProtocol(p)
	return p
}

// AddMarket deploys an incentive-style lending market.
func (e *Env) AddMarket(name string, address, debtAsset, collateralAsset common.Address, incentive *big.Int, closeFactorBps uint64) *IncentiveMarket {
	m := NewIncentiveMarket(e.Chain, name, address, debtAsset, collateralAsset, incentive, closeFactorBps)
	e.Markets[name] = m
	e.Registry.AddIncentiveMarket(m)
	return m
}

// AddFeed deploys a price feed for asset.
func (e *Env) AddFeed(name string, decimals uint8, asset common.Address) *Feed {
	f := NewFeed(name, decimals)
	e.Feeds[name] = f
	e.Registry.AddFeed(f, asset)
	return f
}

// SetFlashPool deploys the flash-loan facility.
func (e *Env) SetFlashPool(name string, address common.Address, premiumBps uint64) *FlashPool {
	e.Flash = NewFlashPool(e.Chain, name, address, premiumBps)
	return e.Flash
}

// Facility returns the flash pool as a facility, or nil when none is set.
func (e *Env) Facility() domain.FlashLoanFacility {
	if e.Flash == nil {
		return nil
	}
	return e.Flash
}
