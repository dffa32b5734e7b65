package strategy

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/liquidation"
	"github.com/alanyoungcy/flashbot/internal/route"
)

// Liquidation repays part of a borrower's debt with working capital, takes
// the seized collateral and swaps it back into the debt asset.
type Liquidation struct {
	liquidator *liquidation.Liquidator
	composer   *route.Composer
}

// NewLiquidation creates the liquidation maneuver.
func NewLiquidation(liquidator *liquidation.Liquidator, composer *route.Composer) *Liquidation {
	return &Liquidation{liquidator: liquidator, composer: composer}
}

func (l *Liquidation) Run(ctx context.Context, call Call, params domain.ManeuverParams) (Outcome, error) {
	plan := params.Liquidation
	if plan == nil {
		return Outcome{}, domain.Failf(domain.ErrInvalidManeuver, "liquidation", "missing liquidation plan")
	}
	pos := plan.Position
	if pos.DebtAsset != call.Asset {
		return Outcome{}, domain.Failf(domain.ErrInvalidManeuver, plan.Protocol, "debt asset %s is not the capital asset %s", pos.DebtAsset.Hex(), call.Asset.Hex())
	}
	if pos.DebtToCover == nil || pos.DebtToCover.Cmp(call.Amount) > 0 {
		return Outcome{}, domain.Failf(domain.ErrInvalidManeuver, plan.Protocol, "debt to cover %v exceeds capital %s", pos.DebtToCover, call.Amount)
	}
	if pos.CollateralAsset != pos.DebtAsset {
		if err := route.Validate(plan.SwapBack, pos.CollateralAsset, pos.DebtAsset); err != nil {
			return Outcome{}, err
		}
	}

	res, err := l.liquidator.Liquidate(ctx, *plan, call.Cost)
	if err != nil {
		return Outcome{}, err
	}

	final := new(big.Int).Set(res.Seized)
	var legs []domain.LegResult
	if pos.CollateralAsset != pos.DebtAsset {
		back, err := l.composer.Execute(ctx, plan.SwapBack, res.Seized, call.Deadline)
		if err != nil {
			return Outcome{}, err
		}
		final = back.FinalOutput
		legs = back.Legs
	}

	check, err := guard.CheckProfit(pos.DebtToCover, final, call.Cost)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Legs:        legs,
		Initial:     new(big.Int).Set(pos.DebtToCover),
		Final:       final,
		Profit:      check.Profit,
		Payout:      check.Payout,
		Liquidation: &res,
	}, nil
}
