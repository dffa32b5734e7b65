package strategy

import (
	"context"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/route"
)

// Arbitrage runs a cyclic route that starts and ends in the capital asset.
type Arbitrage struct {
	composer *route.Composer
}

// NewArbitrage creates the arbitrage maneuver.
func NewArbitrage(composer *route.Composer) *Arbitrage {
	return &Arbitrage{composer: composer}
}

func (a *Arbitrage) Run(ctx context.Context, call Call, params domain.ManeuverParams) (Outcome, error) {
	if err := route.Validate(params.Route, call.Asset, call.Asset); err != nil {
		return Outcome{}, err
	}
	res, err := a.composer.Execute(ctx, params.Route, call.Amount, call.Deadline)
	if err != nil {
		return Outcome{}, err
	}
	check, err := guard.CheckProfit(res.InitialInput, res.FinalOutput, call.Cost)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Legs:    res.Legs,
		Initial: res.InitialInput,
		Final:   res.FinalOutput,
		Profit:  check.Profit,
		Payout:  check.Payout,
	}, nil
}
