package route

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
)

// Composer runs routes leg by leg. It never settles a partial route: the
// first failing leg ends the route and its error voids the enclosing call.
type Composer struct {
	legs   *LegExecutor
	logger *slog.Logger
}

// NewComposer creates a Composer on top of a LegExecutor.
func NewComposer(legs *LegExecutor, logger *slog.Logger) *Composer {
	return &Composer{
		legs:   legs,
		logger: logger.With(slog.String("component", "route_composer")),
	}
}

// Validate checks a plan before anything runs: it must be non-empty, chain
// asset_out to the next asset_in, start at start and, when end is non-zero,
// finish at end. Tolerances are checked here too so a bad last leg cannot
// fail after earlier legs have traded.
func Validate(plan []domain.LegPlan, start, end common.Address) error {
	if len(plan) == 0 {
		return domain.Failf(domain.ErrInvalidRoute, "", "empty route")
	}
	if plan[0].AssetIn != start {
		return domain.Failf(domain.ErrInvalidRoute, plan[0].Venue, "route starts at %s, capital is %s", plan[0].AssetIn.Hex(), start.Hex())
	}
	for i, p := range plan {
		if p.Venue == "" {
			return domain.Failf(domain.ErrInvalidRoute, "", "leg %d has no venue", i)
		}
		if p.AssetIn == p.AssetOut {
			return domain.Failf(domain.ErrInvalidRoute, p.Venue, "leg %d swaps %s into itself", i, p.AssetIn.Hex())
		}
		if err := guard.ValidateTolerance(p.TolerancePct); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
		if i > 0 && plan[i-1].AssetOut != p.AssetIn {
			return domain.Failf(domain.ErrInvalidRoute, p.Venue, "leg %d takes %s but leg %d yields %s", i, p.AssetIn.Hex(), i-1, plan[i-1].AssetOut.Hex())
		}
	}
	if end != (common.Address{}) && plan[len(plan)-1].AssetOut != end {
		return domain.Failf(domain.ErrInvalidRoute, plan[len(plan)-1].Venue, "route ends at %s, want %s", plan[len(plan)-1].AssetOut.Hex(), end.Hex())
	}
	return nil
}

// Execute runs plan starting with amountIn. Each leg after the first trades
// exactly what the previous leg realized.
func (c *Composer) Execute(ctx context.Context, plan []domain.LegPlan, amountIn *big.Int, deadline uint64) (domain.RouteResult, error) {
	if len(plan) == 0 {
		return domain.RouteResult{}, domain.Failf(domain.ErrInvalidRoute, "", "empty route")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return domain.RouteResult{}, domain.Failf(domain.ErrInvalidRoute, "", "non-positive route input %v", amountIn)
	}

	amount := new(big.Int).Set(amountIn)
	results := make([]domain.LegResult, 0, len(plan))
	for i, p := range plan {
		leg := domain.Leg{
			AssetIn:      p.AssetIn,
			AssetOut:     p.AssetOut,
			AmountIn:     amount,
			MinAmountOut: p.MinAmountOut,
			Venue:        p.Venue,
		}
		res, err := c.legs.Execute(ctx, leg, p.TolerancePct, deadline)
		if err != nil {
			c.logger.Warn("route aborted",
				slog.Int("leg", i),
				slog.String("venue", p.Venue),
				slog.String("kind", domain.KindOf(err)),
			)
			return domain.RouteResult{}, fmt.Errorf("route: leg %d: %w", i, err)
		}
		results = append(results, res)
		amount = res.Realized
	}

	return domain.RouteResult{
		InitialInput: new(big.Int).Set(amountIn),
		FinalOutput:  new(big.Int).Set(amount),
		Legs:         results,
	}, nil
}
