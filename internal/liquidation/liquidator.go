package liquidation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
)

// healthyThreshold is the wad health factor at or above which a pool-style
// position cannot be liquidated.
var healthyThreshold = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ProtocolSet resolves lending protocols by name.
type ProtocolSet interface {
	PoolProtocol(name string) (domain.PoolLendingProtocol, bool)
	IncentiveMarket(name string) (domain.IncentiveMarket, bool)
}

// Result is the outcome of a liquidation the protocol accepted.
type Result struct {
	Estimate        Estimate
	CollateralAsset common.Address
	Seized          *big.Int
}

// Liquidator runs liquidations out of the custody account.
type Liquidator struct {
	ledger     domain.Ledger
	protocols  ProtocolSet
	estimator  *Estimator
	allowances *guard.Allowances
	custody    common.Address
	logger     *slog.Logger
}

// NewLiquidator creates a Liquidator.
func NewLiquidator(ledger domain.Ledger, protocols ProtocolSet, estimator *Estimator, allowances *guard.Allowances, custody common.Address, logger *slog.Logger) *Liquidator {
	return &Liquidator{
		ledger:     ledger,
		protocols:  protocols,
		estimator:  estimator,
		allowances: allowances,
		custody:    custody,
		logger:     logger.With(slog.String("component", "liquidator")),
	}
}

// Liquidate estimates the plan, refuses it when the estimate does not clear
// cost, and otherwise calls the protocol and checks what actually arrived.
// No protocol call is made for an unprofitable estimate.
func (l *Liquidator) Liquidate(ctx context.Context, plan domain.LiquidationPlan, cost *big.Int) (Result, error) {
	pos := plan.Position
	if pos.DebtToCover == nil || pos.DebtToCover.Sign() <= 0 {
		return Result{}, domain.Failf(domain.ErrInvalidManeuver, plan.Protocol, "non-positive debt to cover %v", pos.DebtToCover)
	}
	switch plan.Mechanics {
	case domain.LiquidationPool:
		return l.pool(ctx, plan, cost)
	case domain.LiquidationIncentive:
		return l.incentive(ctx, plan, cost)
	default:
		return Result{}, domain.Failf(domain.ErrInvalidManeuver, plan.Protocol, "unknown liquidation mechanics %q", plan.Mechanics)
	}
}

func (l *Liquidator) pool(ctx context.Context, plan domain.LiquidationPlan, cost *big.Int) (Result, error) {
	protocol, ok := l.protocols.PoolProtocol(plan.Protocol)
	if !ok {
		return Result{}, domain.Failf(domain.ErrInvalidManeuver, plan.Protocol, "unknown pool protocol")
	}
	pos := plan.Position

	est, err := l.estimator.Pool(ctx, protocol.Name(), pos)
	if err != nil {
		return Result{}, err
	}
	if _, err := guard.RequireProfit(est.Profit, cost); err != nil {
		return Result{}, err
	}

	hf, err := protocol.HealthFactor(ctx, pos.Borrower)
	if err != nil {
		return Result{}, domain.Fail(domain.ErrExternalCallFailed, protocol.Name(), fmt.Errorf("health factor: %w", err))
	}
	if hf.Cmp(healthyThreshold) >= 0 {
		return Result{}, domain.Failf(domain.ErrLiquidationFailed, protocol.Name(), "borrower %s health factor %s is not below 1e18", pos.Borrower.Hex(), hf)
	}

	if err := l.allowances.Ensure(ctx, pos.DebtAsset, protocol.Address(), pos.DebtToCover); err != nil {
		return Result{}, err
	}
	before, err := l.balance(ctx, pos.CollateralAsset)
	if err != nil {
		return Result{}, err
	}
	if err := protocol.LiquidationCall(ctx, l.custody, pos.CollateralAsset, pos.DebtAsset, pos.Borrower, pos.DebtToCover, plan.ReceiveCollateralToken); err != nil {
		if domain.IsExecError(err) {
			return Result{}, err
		}
		return Result{}, domain.Fail(domain.ErrLiquidationFailed, protocol.Name(), err)
	}
	l.allowances.Spent(pos.DebtAsset, protocol.Address(), pos.DebtToCover)

	seized, err := l.received(ctx, pos.CollateralAsset, before)
	if err != nil {
		return Result{}, err
	}
	if seized.Sign() <= 0 {
		return Result{}, domain.Failf(domain.ErrLiquidationFailed, protocol.Name(), "no collateral received")
	}

	l.logger.Info("pool liquidation accepted",
		slog.String("protocol", protocol.Name()),
		slog.String("borrower", pos.Borrower.Hex()),
		slog.String("repaid", pos.DebtToCover.String()),
		slog.String("seized", seized.String()),
	)
	return Result{Estimate: est, CollateralAsset: pos.CollateralAsset, Seized: seized}, nil
}

func (l *Liquidator) incentive(ctx context.Context, plan domain.LiquidationPlan, cost *big.Int) (Result, error) {
	market, ok := l.protocols.IncentiveMarket(plan.Protocol)
	if !ok {
		return Result{}, domain.Failf(domain.ErrInvalidManeuver, plan.Protocol, "unknown incentive market")
	}
	pos := plan.Position

	est, err := l.estimator.Incentive(ctx, market, pos.DebtToCover)
	if err != nil {
		return Result{}, err
	}
	if _, err := guard.RequireProfit(est.Profit, cost); err != nil {
		return Result{}, err
	}

	shortfall, err := market.Shortfall(ctx, pos.Borrower)
	if err != nil {
		return Result{}, domain.Fail(domain.ErrExternalCallFailed, market.Name(), fmt.Errorf("shortfall: %w", err))
	}
	if shortfall == nil || shortfall.Sign() <= 0 {
		return Result{}, domain.Failf(domain.ErrLiquidationFailed, market.Name(), "borrower %s has no shortfall", pos.Borrower.Hex())
	}

	if err := l.allowances.Ensure(ctx, pos.DebtAsset, market.Address(), pos.DebtToCover); err != nil {
		return Result{}, err
	}
	status, err := market.LiquidateBorrow(ctx, l.custody, pos.Borrower, pos.DebtToCover, plan.CollateralMarket)
	if err != nil {
		if domain.IsExecError(err) {
			return Result{}, err
		}
		return Result{}, domain.Fail(domain.ErrLiquidationFailed, market.Name(), err)
	}
	if status != 0 {
		return Result{}, domain.Failf(domain.ErrLiquidationFailed, market.Name(), "liquidateBorrow status %d", status)
	}
	l.allowances.Spent(pos.DebtAsset, market.Address(), pos.DebtToCover)

	before, err := l.balance(ctx, pos.CollateralAsset)
	if err != nil {
		return Result{}, err
	}
	status, err = market.Seize(ctx, l.custody, l.custody, pos.Borrower, est.SeizeAmount)
	if err != nil {
		if domain.IsExecError(err) {
			return Result{}, err
		}
		return Result{}, domain.Fail(domain.ErrSeizeFailed, market.Name(), err)
	}
	if status != 0 {
		return Result{}, domain.Failf(domain.ErrSeizeFailed, market.Name(), "seize status %d", status)
	}
	seized, err := l.received(ctx, pos.CollateralAsset, before)
	if err != nil {
		return Result{}, err
	}
	if seized.Sign() <= 0 {
		return Result{}, domain.Failf(domain.ErrSeizeFailed, market.Name(), "no collateral received")
	}

	l.logger.Info("incentive liquidation accepted",
		slog.String("market", market.Name()),
		slog.String("borrower", pos.Borrower.Hex()),
		slog.String("repaid", pos.DebtToCover.String()),
		slog.String("seized", seized.String()),
	)
	return Result{Estimate: est, CollateralAsset: pos.CollateralAsset, Seized: seized}, nil
}

func (l *Liquidator) balance(ctx context.Context, asset common.Address) (*big.Int, error) {
	bal, err := l.ledger.BalanceOf(ctx, asset, l.custody)
	if err != nil {
		return nil, domain.Fail(domain.ErrExternalCallFailed, asset.Hex(), fmt.Errorf("balance of custody: %w", err))
	}
	return bal, nil
}

func (l *Liquidator) received(ctx context.Context, asset common.Address, before *big.Int) (*big.Int, error) {
	after, err := l.balance(ctx, asset)
	if err != nil {
		return nil, err
	}
	return after.Sub(after, before), nil
}
