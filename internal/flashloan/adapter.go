package flashloan

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/strategy"
)

// Dispatcher runs the maneuver named by a strategy tag.
type Dispatcher interface {
	Dispatch(ctx context.Context, tag domain.StrategyTag, call strategy.Call, params domain.ManeuverParams) (strategy.Outcome, error)
}

// Request describes one borrowed-capital maneuver.
type Request struct {
	Asset           common.Address
	Amount          *big.Int
	LoanFractionBps uint64 // when set, borrow this share of facility liquidity, capped by Amount
	Strategy        domain.StrategyTag
	Params          domain.ManeuverParams
	Cost            *big.Int // excluding the premium, which is added once the facility reports it
	Deadline        uint64
}

// Loan is a repaid loan together with the maneuver outcome it funded.
type Loan struct {
	Obligation domain.LoanObligation
	Outcome    strategy.Outcome
}

type pendingLoan struct {
	req       Request
	principal *big.Int
	entered   bool // callback running or done; a loan is served once
	loan      *Loan
}

// Adapter is the flash-loan receiver of the custody account.
type Adapter struct {
	self       common.Address
	ledger     domain.Ledger
	facility   domain.FlashLoanFacility
	dispatcher Dispatcher
	allowances *guard.Allowances
	logger     *slog.Logger

	mu      sync.Mutex
	pending *pendingLoan
}

// NewAdapter creates an Adapter receiving loans into self.
func NewAdapter(self common.Address, ledger domain.Ledger, facility domain.FlashLoanFacility, dispatcher Dispatcher, allowances *guard.Allowances, logger *slog.Logger) *Adapter {
	return &Adapter{
		self:       self,
		ledger:     ledger,
		facility:   facility,
		dispatcher: dispatcher,
		allowances: allowances,
		logger:     logger.With(slog.String("component", "flashloan")),
	}
}

// Address is the custody account loans are paid into.
func (a *Adapter) Address() common.Address {
	return a.self
}

// Facility returns the configured lending facility.
func (a *Adapter) Facility() domain.FlashLoanFacility {
	return a.facility
}

// Size returns the principal to borrow: amount, or fractionBps of the
// available liquidity when that is smaller.
func Size(amount, liquidity *big.Int, fractionBps uint64) *big.Int {
	if fractionBps == 0 || liquidity == nil {
		return new(big.Int).Set(amount)
	}
	share := new(big.Int).Mul(liquidity, new(big.Int).SetUint64(fractionBps))
	share.Quo(share, big.NewInt(10_000))
	if share.Cmp(amount) < 0 {
		return share
	}
	return new(big.Int).Set(amount)
}

// Borrow requests the loan and returns once the facility has been repaid.
// The maneuver runs inside the facility's callback.
func (a *Adapter) Borrow(ctx context.Context, req Request) (Loan, error) {
	name := a.facility.Name()
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Loan{}, domain.Failf(domain.ErrInvalidManeuver, name, "non-positive loan amount %v", req.Amount)
	}
	if req.LoanFractionBps > 10_000 {
		return Loan{}, domain.Failf(domain.ErrInvalidManeuver, name, "loan fraction %d bps above 10000", req.LoanFractionBps)
	}

	liquidity, err := a.facility.AvailableLiquidity(ctx, req.Asset)
	if err != nil {
		return Loan{}, domain.Fail(domain.ErrExternalCallFailed, name, fmt.Errorf("available liquidity: %w", err))
	}
	principal := Size(req.Amount, liquidity, req.LoanFractionBps)
	if principal.Sign() <= 0 || liquidity.Cmp(principal) < 0 {
		return Loan{}, domain.Failf(domain.ErrExternalCallFailed, name, "facility holds %s of %s, need %s", liquidity, req.Asset.Hex(), principal)
	}

	payload, err := EncodePayload(req.Strategy, req.Params)
	if err != nil {
		return Loan{}, err
	}

	p := &pendingLoan{req: req, principal: principal}
	a.mu.Lock()
	if a.pending != nil {
		a.mu.Unlock()
		return Loan{}, domain.Failf(domain.ErrReentrantCall, name, "loan already in flight")
	}
	a.pending = p
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
	}()

	a.logger.Info("requesting flash loan",
		slog.String("facility", name),
		slog.String("asset", req.Asset.Hex()),
		slog.String("principal", principal.String()),
		slog.String("strategy", req.Strategy.String()),
	)
	if err := a.facility.FlashLoan(ctx, a.self, a, req.Asset, principal, payload); err != nil {
		if domain.IsExecError(err) {
			return Loan{}, err
		}
		return Loan{}, domain.Fail(domain.ErrExternalCallFailed, name, err)
	}
	if p.loan == nil {
		return Loan{}, domain.Failf(domain.ErrExternalCallFailed, name, "facility returned without invoking the callback")
	}
	owed := new(big.Int).Add(p.loan.Obligation.Principal, p.loan.Obligation.Premium)
	a.allowances.Spent(req.Asset, a.facility.Address(), owed)
	p.loan.Obligation.Repaid = true
	return *p.loan, nil
}

// OnLoanReceived is the facility callback. It only accepts the loan this
// adapter itself requested, runs the maneuver named in payload, and approves
// repayment once custody holds principal plus premium.
func (a *Adapter) OnLoanReceived(ctx context.Context, facility, asset common.Address, amount, premium *big.Int, initiator common.Address, payload []byte) (bool, error) {
	name := a.facility.Name()
	if facility != a.facility.Address() {
		return false, domain.Failf(domain.ErrUnauthorized, "flashloan", "callback from %s, not the facility", facility.Hex())
	}
	a.mu.Lock()
	p := a.pending
	if p == nil {
		a.mu.Unlock()
		return false, domain.Failf(domain.ErrUnauthorized, name, "no loan awaiting a callback")
	}
	if p.entered {
		a.mu.Unlock()
		return false, domain.Failf(domain.ErrReentrantCall, name, "loan callback already entered")
	}
	p.entered = true
	a.mu.Unlock()
	if initiator != a.self {
		return false, domain.Failf(domain.ErrUnauthorized, name, "loan initiated by %s", initiator.Hex())
	}
	if asset != p.req.Asset || amount == nil || amount.Cmp(p.principal) != 0 {
		return false, domain.Failf(domain.ErrUnauthorized, name, "callback for %v of %s does not match the request", amount, asset.Hex())
	}
	if premium == nil || premium.Sign() < 0 {
		return false, domain.Failf(domain.ErrExternalCallFailed, name, "invalid premium %v", premium)
	}

	tag, params, err := DecodePayload(payload)
	if err != nil {
		return false, err
	}
	if tag != p.req.Strategy {
		return false, domain.Failf(domain.ErrUnauthorized, name, "payload names %s, request was %s", tag, p.req.Strategy)
	}

	cost := new(big.Int).Add(premium, costOrZero(p.req.Cost))
	out, err := a.dispatcher.Dispatch(ctx, tag, strategy.Call{
		Asset:    asset,
		Amount:   new(big.Int).Set(amount),
		Cost:     cost,
		Deadline: p.req.Deadline,
	}, params)
	if err != nil {
		return false, err
	}

	owed := new(big.Int).Add(amount, premium)
	bal, err := a.ledger.BalanceOf(ctx, asset, a.self)
	if err != nil {
		return false, domain.Fail(domain.ErrExternalCallFailed, asset.Hex(), fmt.Errorf("balance of custody: %w", err))
	}
	if bal.Cmp(owed) < 0 {
		return false, domain.Failf(domain.ErrInsufficientRepayment, name, "custody holds %s, owes %s", bal, owed)
	}
	if err := a.allowances.Ensure(ctx, asset, facility, owed); err != nil {
		return false, err
	}

	p.loan = &Loan{
		Obligation: domain.LoanObligation{
			Asset:     asset,
			Principal: new(big.Int).Set(amount),
			Premium:   new(big.Int).Set(premium),
			Strategy:  tag,
		},
		Outcome: out,
	}
	return true, nil
}

func costOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

var _ domain.FlashLoanReceiver = (*Adapter)(nil)
