package sim

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Status codes returned by IncentiveMarket, following the comptroller
// error enumeration.
const (
	StatusOK                    uint64 = 0
	StatusInsufficientShortfall uint64 = 3
	StatusSeizeTooMuch          uint64 = 4
	StatusMarketMismatch        uint64 = 9
	StatusTransferInFailed      uint64 = 13
	StatusTooMuchRepay          uint64 = 17
	StatusLiquidatorMismatch    uint64 = 18
)

// IncentiveMarket is an incentive-style lending market with one debt asset
// and one collateral asset priced one to one. LiquidateBorrow repays debt and
// credits the liquidator with repay*incentive/1e18 of seizable collateral;
// Seize pays that credit out.
type IncentiveMarket struct {
	chain           *Chain
	name            string
	address         common.Address
	debtAsset       common.Address
	collateralAsset common.Address
	incentive       *big.Int
	closeFactorBps  uint64
}

// NewIncentiveMarket creates a market with a liquidation incentive mantissa
// (1.08e18 is an 8% incentive).
func NewIncentiveMarket(chain *Chain, name string, address, debtAsset, collateralAsset common.Address, incentive *big.Int, closeFactorBps uint64) *IncentiveMarket {
	return &IncentiveMarket{
		chain:           chain,
		name:            name,
		address:         address,
		debtAsset:       debtAsset,
		collateralAsset: collateralAsset,
		incentive:       new(big.Int).Set(incentive),
		closeFactorBps:  closeFactorBps,
	}
}

func (m *IncentiveMarket) Name() string            { return m.name }
func (m *IncentiveMarket) Address() common.Address { return m.address }

// OpenPosition records a borrow with its collateral and account shortfall.
func (m *IncentiveMarket) OpenPosition(borrower common.Address, collateral, debt, shortfall *big.Int) {
	m.chain.Mint(m.collateralAsset, m.address, collateral)
	m.chain.Store(m.address, slot("collateral", borrower), collateral)
	m.chain.Store(m.address, slot("debt", borrower), debt)
	m.chain.Store(m.address, slot("shortfall", borrower), shortfall)
}

// Debt returns borrower's outstanding debt.
func (m *IncentiveMarket) Debt(borrower common.Address) *big.Int {
	return m.chain.Load(m.address, slot("debt", borrower))
}

func (m *IncentiveMarket) LiquidationIncentive(context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.incentive), nil
}

func (m *IncentiveMarket) Shortfall(_ context.Context, borrower common.Address) (*big.Int, error) {
	return m.chain.Load(m.address, slot("shortfall", borrower)), nil
}

// LiquidateBorrow repays repayAmount of borrower's debt out of caller.
func (m *IncentiveMarket) LiquidateBorrow(ctx context.Context, caller, borrower common.Address, repayAmount *big.Int, collateralMarket common.Address) (uint64, error) {
	if collateralMarket != m.address {
		return StatusMarketMismatch, nil
	}
	if m.chain.Load(m.address, slot("shortfall", borrower)).Sign() == 0 {
		return StatusInsufficientShortfall, nil
	}
	debt := m.Debt(borrower)
	maxRepay := new(big.Int).Mul(debt, new(big.Int).SetUint64(m.closeFactorBps))
	maxRepay.Quo(maxRepay, big.NewInt(10_000))
	if repayAmount.Cmp(maxRepay) > 0 {
		return StatusTooMuchRepay, nil
	}

	ok, err := m.chain.TransferFrom(ctx, m.debtAsset, m.address, caller, m.address, repayAmount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return StatusTransferInFailed, nil
	}

	credit := new(big.Int).Mul(repayAmount, m.incentive)
	credit.Quo(credit, WadOne)
	key := slot("seizable", caller, borrower)
	m.chain.Store(m.address, key, new(big.Int).Add(m.chain.Load(m.address, key), credit))
	m.chain.Store(m.address, slot("debt", borrower), debt.Sub(debt, repayAmount))
	return StatusOK, nil
}

// Seize pays seizeAmount of borrower's collateral to liquidator, bounded by
// the credit earned through LiquidateBorrow.
func (m *IncentiveMarket) Seize(ctx context.Context, caller, liquidator, borrower common.Address, seizeAmount *big.Int) (uint64, error) {
	if caller != liquidator {
		return StatusLiquidatorMismatch, nil
	}
	key := slot("seizable", liquidator, borrower)
	credit := m.chain.Load(m.address, key)
	collateral := m.chain.Load(m.address, slot("collateral", borrower))
	if seizeAmount.Cmp(credit) > 0 || seizeAmount.Cmp(collateral) > 0 {
		return StatusSeizeTooMuch, nil
	}
	ok, err := m.chain.Transfer(ctx, m.collateralAsset, m.address, liquidator, seizeAmount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return StatusSeizeTooMuch, nil
	}
	m.chain.Store(m.address, key, credit.Sub(credit, seizeAmount))
	m.chain.Store(m.address, slot("collateral", borrower), collateral.Sub(collateral, seizeAmount))
	return StatusOK, nil
}

var _ domain.IncentiveMarket = (*IncentiveMarket)(nil)
