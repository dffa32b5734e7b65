package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

var (
	ErrPositionHealthy      = errors.New("sim: lending pool: position is healthy")
	ErrCoverTooLarge        = errors.New("sim: lending pool: debt to cover above close factor")
	ErrCollateralShort      = errors.New("sim: lending pool: not enough collateral to seize")
	ErrCollateralTokenUnsup = errors.New("sim: lending pool: collateral token receipt unsupported")
	ErrNoPrice              = errors.New("sim: lending pool: no price for asset")
)

// WadOne is 1e18, the health factor below which a position is liquidatable.
var WadOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// LendingPool is a pool-style lending market. Positions live in chain
// storage so a reverted liquidation leaves them untouched.
type LendingPool struct {
	chain          *Chain
	name           string
	address        common.Address
	bonusBps       uint64
	closeFactorBps uint64
	prices         map[common.Address]*big.Int
}

// NewLendingPool creates a pool paying bonusBps on seized collateral and
// allowing at most closeFactorBps of a debt to be covered per call.
func NewLendingPool(chain *Chain, name string, address common.Address, bonusBps, closeFactorBps uint64) *LendingPool {
	return &LendingPool{
		chain:          chain,
		name:           name,
		address:        address,
		bonusBps:       bonusBps,
		closeFactorBps: closeFactorBps,
		prices:         make(map[common.Address]*big.Int),
	}
}

func (p *LendingPool) Name() string            { return p.name }
func (p *LendingPool) Address() common.Address { return p.address }

// SetPrice sets the pool's internal price of asset. All prices share one
// scale.
func (p *LendingPool) SetPrice(asset common.Address, price *big.Int) {
	p.prices[asset] = new(big.Int).Set(price)
}

// OpenPosition records a borrow and mints its collateral into the pool.
func (p *LendingPool) OpenPosition(borrower, collateralAsset common.Address, collateral *big.Int, debtAsset common.Address, debt, healthFactor *big.Int) {
	p.chain.Mint(collateralAsset, p.address, collateral)
	p.chain.Store(p.address, slot("collateral", borrower, collateralAsset), collateral)
	p.chain.Store(p.address, slot("debt", borrower, debtAsset), debt)
	p.chain.Store(p.address, slot("hf", borrower), healthFactor)
}

// Debt returns borrower's outstanding debt of asset.
func (p *LendingPool) Debt(borrower, asset common.Address) *big.Int {
	return p.chain.Load(p.address, slot("debt", borrower, asset))
}

// Collateral returns borrower's collateral of asset.
func (p *LendingPool) Collateral(borrower, asset common.Address) *big.Int {
	return p.chain.Load(p.address, slot("collateral", borrower, asset))
}

// HealthFactor returns the borrower's health factor in wad.
func (p *LendingPool) HealthFactor(_ context.Context, borrower common.Address) (*big.Int, error) {
	return p.chain.Load(p.address, slot("hf", borrower)), nil
}

// LiquidationCall repays debtToCover on behalf of borrower and sends the
// caller the matching collateral plus the liquidation bonus.
func (p *LendingPool) LiquidationCall(ctx context.Context, caller, collateralAsset, debtAsset, borrower common.Address, debtToCover *big.Int, receiveCollateralToken bool) error {
	if receiveCollateralToken {
		return ErrCollateralTokenUnsup
	}
	hf := p.chain.Load(p.address, slot("hf", borrower))
	if hf.Cmp(WadOne) >= 0 {
		return fmt.Errorf("%w: health factor %s", ErrPositionHealthy, hf)
	}
	debt := p.Debt(borrower, debtAsset)
	maxCover := new(big.Int).Mul(debt, new(big.Int).SetUint64(p.closeFactorBps))
	maxCover.Quo(maxCover, big.NewInt(10_000))
	if debtToCover.Cmp(maxCover) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrCoverTooLarge, debtToCover, maxCover)
	}

	debtPrice, ok := p.prices[debtAsset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPrice, debtAsset.Hex())
	}
	collPrice, ok := p.prices[collateralAsset]
	if !ok || collPrice.Sign() == 0 {
		return fmt.Errorf("%w: %s", ErrNoPrice, collateralAsset.Hex())
	}
	seize := new(big.Int).Mul(debtToCover, debtPrice)
	seize.Mul(seize, new(big.Int).SetUint64(10_000+p.bonusBps))
	seize.Quo(seize, new(big.Int).Mul(collPrice, big.NewInt(10_000)))

	collateral := p.Collateral(borrower, collateralAsset)
	if seize.Cmp(collateral) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrCollateralShort, seize, collateral)
	}

	ok, err := p.chain.TransferFrom(ctx, debtAsset, p.address, caller, p.address, debtToCover)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: pull %s of debt from %s", ErrTransferFailed, debtToCover, caller.Hex())
	}
	ok, err = p.chain.Transfer(ctx, collateralAsset, p.address, caller, seize)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: pay %s of collateral", ErrTransferFailed, seize)
	}

	p.chain.Store(p.address, slot("debt", borrower, debtAsset), debt.Sub(debt, debtToCover))
	p.chain.Store(p.address, slot("collateral", borrower, collateralAsset), collateral.Sub(collateral, seize))
	return nil
}

func slot(kind string, addrs ...common.Address) string {
	s := kind
	for _, a := range addrs {
		s += "/" + a.Hex()
	}
	return s
}

var _ domain.PoolLendingProtocol = (*LendingPool)(nil)
