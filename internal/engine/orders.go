package engine

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// RouteOrder is an own-capital route: trade Amount of Asset through Route
// and keep the result only if it beats Cost.
type RouteOrder struct {
	ID          string
	Asset       common.Address
	Amount      *big.Int
	Route       []domain.LegPlan
	Cost        *big.Int
	Beneficiary common.Address
}

// LiquidationOrder is an own-capital liquidation.
type LiquidationOrder struct {
	ID          string
	Plan        domain.LiquidationPlan
	Cost        *big.Int
	Beneficiary common.Address
}

// ExecuteRoute runs a route on custody capital.
func (e *Engine) ExecuteRoute(ctx context.Context, caller common.Address, o RouteOrder) (domain.Execution, error) {
	return e.Execute(ctx, caller, domain.Maneuver{
		ID:          o.ID,
		Strategy:    domain.StrategyArbitrage,
		Funding:     domain.FundingCustody,
		Asset:       o.Asset,
		Amount:      o.Amount,
		Cost:        o.Cost,
		Beneficiary: o.Beneficiary,
		Params:      domain.ManeuverParams{Route: o.Route},
	})
}

// ExecuteFlashLoan runs m on borrowed capital.
func (e *Engine) ExecuteFlashLoan(ctx context.Context, caller common.Address, m domain.Maneuver) (domain.Execution, error) {
	m.Funding = domain.FundingFlashLoan
	return e.Execute(ctx, caller, m)
}

// Liquidate runs a liquidation on custody capital.
func (e *Engine) Liquidate(ctx context.Context, caller common.Address, o LiquidationOrder) (domain.Execution, error) {
	plan := o.Plan
	return e.Execute(ctx, caller, domain.Maneuver{
		ID:          o.ID,
		Strategy:    domain.StrategyLiquidation,
		Funding:     domain.FundingCustody,
		Asset:       plan.Position.DebtAsset,
		Amount:      plan.Position.DebtToCover,
		Cost:        o.Cost,
		Beneficiary: o.Beneficiary,
		Params:      domain.ManeuverParams{Liquidation: &plan},
	})
}

// Withdraw moves a custody balance to w.To.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, w domain.Withdrawal) error {
	_, err := e.guarded(caller, func() error {
		if w.Amount == nil || w.Amount.Sign() <= 0 {
			return domain.Failf(domain.ErrInvalidManeuver, "withdraw", "non-positive amount %v", w.Amount)
		}
		if w.To == (common.Address{}) {
			return domain.Failf(domain.ErrInvalidManeuver, "withdraw", "missing recipient")
		}
		ok, err := e.chain.Transfer(ctx, w.Asset, e.cfg.Custody, w.To, w.Amount)
		if err != nil {
			return domain.Fail(domain.ErrExternalCallFailed, w.Asset.Hex(), err)
		}
		if !ok {
			return domain.Failf(domain.ErrExternalCallFailed, w.Asset.Hex(), "custody balance below %s", w.Amount)
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("withdraw failed", slog.String("kind", domain.KindOf(err)), slog.String("error", err.Error()))
		return err
	}
	e.logger.Info("withdrawal committed",
		slog.String("asset", w.Asset.Hex()),
		slog.String("amount", w.Amount.String()),
		slog.String("to", w.To.Hex()),
	)
	return nil
}
