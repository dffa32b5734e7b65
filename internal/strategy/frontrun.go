package strategy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/route"
)

// FrontRun takes a position through the entry route and unwinds all of it
// through the exit route back into the capital asset.
type FrontRun struct {
	composer *route.Composer
}

// NewFrontRun creates the front-running maneuver.
func NewFrontRun(composer *route.Composer) *FrontRun {
	return &FrontRun{composer: composer}
}

func (f *FrontRun) Run(ctx context.Context, call Call, params domain.ManeuverParams) (Outcome, error) {
	return enterAndExit(ctx, f.composer, call, call.Amount, params)
}

// Sandwich commits front_bps of the working capital to the front leg and
// back-runs everything it acquired.
type Sandwich struct {
	composer *route.Composer
}

// NewSandwich creates the sandwich maneuver.
func NewSandwich(composer *route.Composer) *Sandwich {
	return &Sandwich{composer: composer}
}

func (s *Sandwich) Run(ctx context.Context, call Call, params domain.ManeuverParams) (Outcome, error) {
	if params.FrontBps == 0 || params.FrontBps > 10_000 {
		return Outcome{}, domain.Failf(domain.ErrInvalidManeuver, "sandwich", "front_bps %d outside (0, 10000]", params.FrontBps)
	}
	front := new(big.Int).Mul(call.Amount, new(big.Int).SetUint64(params.FrontBps))
	front.Quo(front, big.NewInt(10_000))
	if front.Sign() <= 0 {
		return Outcome{}, domain.Failf(domain.ErrInvalidManeuver, "sandwich", "front leg rounds to zero")
	}
	return enterAndExit(ctx, s.composer, call, front, params)
}

func enterAndExit(ctx context.Context, composer *route.Composer, call Call, amountIn *big.Int, params domain.ManeuverParams) (Outcome, error) {
	if err := route.Validate(params.Route, call.Asset, common.Address{}); err != nil {
		return Outcome{}, err
	}
	held := params.Route[len(params.Route)-1].AssetOut
	if err := route.Validate(params.Exit, held, call.Asset); err != nil {
		return Outcome{}, err
	}

	entry, err := composer.Execute(ctx, params.Route, amountIn, call.Deadline)
	if err != nil {
		return Outcome{}, err
	}
	exit, err := composer.Execute(ctx, params.Exit, entry.FinalOutput, call.Deadline)
	if err != nil {
		return Outcome{}, err
	}
	check, err := guard.CheckProfit(entry.InitialInput, exit.FinalOutput, call.Cost)
	if err != nil {
		return Outcome{}, err
	}

	legs := make([]domain.LegResult, 0, len(entry.Legs)+len(exit.Legs))
	legs = append(legs, entry.Legs...)
	legs = append(legs, exit.Legs...)
	return Outcome{
		Legs:    legs,
		Initial: entry.InitialInput,
		Final:   exit.FinalOutput,
		Profit:  check.Profit,
		Payout:  check.Payout,
	}, nil
}
