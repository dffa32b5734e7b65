package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the token balance capability. A false return with a nil error
// is a refused transfer or approval.
type Ledger interface {
	BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, asset, holder, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, asset, owner, spender common.Address, amount *big.Int) (bool, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) (bool, error)
	TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) (bool, error)
}

// Journal gives the all-or-nothing transaction boundary: every state change
// made after Snapshot is undone by RevertToSnapshot, or kept by Commit.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int)
}

// Clock reports the environment's block time in seconds.
type Clock interface {
	Now() uint64
}

// Chain is the execution environment the guarded core runs against.
type Chain interface {
	Ledger
	Journal
	Clock
}

// Venue quotes and executes swaps along a token path. The last element of the
// amounts returned by Swap is the realized output.
type Venue interface {
	Name() string
	Address() common.Address
	Quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error)
	Swap(ctx context.Context, caller common.Address, amountIn, minAmountOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error)
}

// FlashLoanReceiver is invoked by a facility synchronously inside FlashLoan.
type FlashLoanReceiver interface {
	Address() common.Address
	OnLoanReceived(ctx context.Context, facility, asset common.Address, amount, premium *big.Int, initiator common.Address, payload []byte) (bool, error)
}

// FlashLoanFacility advances capital that must be returned with a premium
// before FlashLoan returns.
type FlashLoanFacility interface {
	Name() string
	Address() common.Address
	AvailableLiquidity(ctx context.Context, asset common.Address) (*big.Int, error)
	FlashLoan(ctx context.Context, initiator common.Address, receiver FlashLoanReceiver, asset common.Address, amount *big.Int, payload []byte) error
}

// PoolLendingProtocol is a pool-style lending market liquidated with a single
// liquidationCall.
type PoolLendingProtocol interface {
	Name() string
	Address() common.Address
	HealthFactor(ctx context.Context, borrower common.Address) (*big.Int, error)
	LiquidationCall(ctx context.Context, caller, collateralAsset, debtAsset, borrower common.Address, debtToCover *big.Int, receiveCollateralToken bool) error
}

// IncentiveMarket is an incentive-style lending market: the liquidator repays
// through LiquidateBorrow and then collects collateral through Seize. A
// non-zero status code is a protocol rejection.
type IncentiveMarket interface {
	Name() string
	Address() common.Address
	LiquidationIncentive(ctx context.Context) (*big.Int, error)
	Shortfall(ctx context.Context, borrower common.Address) (*big.Int, error)
	LiquidateBorrow(ctx context.Context, caller, borrower common.Address, repayAmount *big.Int, collateralMarket common.Address) (uint64, error)
	Seize(ctx context.Context, caller, liquidator, borrower common.Address, seizeAmount *big.Int) (uint64, error)
}

// PriceRound is one answer of a price feed with its round metadata.
type PriceRound struct {
	RoundID         *big.Int
	Answer          *big.Int
	UpdatedAt       uint64
	AnsweredInRound *big.Int
	Decimals        uint8
}

// Scale returns 10^Decimals.
func (r PriceRound) Scale() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.Decimals)), nil)
}

// PriceFeed reports the latest price of one asset.
type PriceFeed interface {
	Name() string
	LatestPrice(ctx context.Context) (PriceRound, error)
}
