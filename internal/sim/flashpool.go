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
	ErrLoanLiquidity    = errors.New("sim: flash pool: insufficient liquidity")
	ErrCallbackRejected = errors.New("sim: flash pool: receiver returned false")
	ErrRepaymentFailed  = errors.New("sim: flash pool: repayment pull failed")
)

// FlashPool advances liquidity for the duration of one FlashLoan call and
// pulls principal plus premium back from the receiver afterwards.
type FlashPool struct {
	chain      *Chain
	name       string
	address    common.Address
	premiumBps uint64
}

// NewFlashPool creates a pool charging premiumBps per loan.
func NewFlashPool(chain *Chain, name string, address common.Address, premiumBps uint64) *FlashPool {
	return &FlashPool{chain: chain, name: name, address: address, premiumBps: premiumBps}
}

func (p *FlashPool) Name() string            { return p.name }
func (p *FlashPool) Address() common.Address { return p.address }

// Fund mints lendable liquidity into the pool.
func (p *FlashPool) Fund(asset common.Address, amount *big.Int) {
	p.chain.Mint(asset, p.address, amount)
}

// Premium returns the fee owed on amount.
func (p *FlashPool) Premium(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(p.premiumBps))
	return fee.Quo(fee, big.NewInt(10_000))
}

// AvailableLiquidity returns the pool's balance of asset.
func (p *FlashPool) AvailableLiquidity(ctx context.Context, asset common.Address) (*big.Int, error) {
	return p.chain.BalanceOf(ctx, asset, p.address)
}

// FlashLoan transfers amount to receiver, invokes its callback and then
// pulls amount plus premium back. Errors from the callback are returned
// wrapped, not replaced.
func (p *FlashPool) FlashLoan(ctx context.Context, initiator common.Address, receiver domain.FlashLoanReceiver, asset common.Address, amount *big.Int, payload []byte) error {
	available := p.chain.Balance(asset, p.address)
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: want %s, have %s", ErrLoanLiquidity, amount, available)
	}
	premium := p.Premium(amount)

	ok, err := p.chain.Transfer(ctx, asset, p.address, receiver.Address(), amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: advance to %s", ErrTransferFailed, receiver.Address().Hex())
	}

	ok, err = receiver.OnLoanReceived(ctx, p.address, asset, amount, premium, initiator, payload)
	if err != nil {
		return fmt.Errorf("sim: flash pool: callback: %w", err)
	}
	if !ok {
		return ErrCallbackRejected
	}

	owed := new(big.Int).Add(amount, premium)
	ok, err = p.chain.TransferFrom(ctx, asset, p.address, receiver.Address(), p.address, owed)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s owed by %s", ErrRepaymentFailed, owed, receiver.Address().Hex())
	}
	return nil
}

var _ domain.FlashLoanFacility = (*FlashPool)(nil)
