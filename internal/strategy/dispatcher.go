package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Maneuvers holds one implementation per strategy tag.
type Maneuvers struct {
	Arbitrage     Maneuver
	Liquidation   Maneuver
	FrontRun      Maneuver
	Sandwich      Maneuver
	HighFrequency Maneuver
}

// Dispatcher maps a strategy tag onto its maneuver. There is no fallback:
// any tag outside the known set fails with UnknownStrategy.
type Dispatcher struct {
	maneuvers Maneuvers
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. Every maneuver must be set.
func NewDispatcher(m Maneuvers, logger *slog.Logger) (*Dispatcher, error) {
	if m.Arbitrage == nil || m.Liquidation == nil || m.FrontRun == nil || m.Sandwich == nil || m.HighFrequency == nil {
		return nil, errors.New("strategy: dispatcher needs all five maneuvers")
	}
	return &Dispatcher{
		maneuvers: m,
		logger:    logger.With(slog.String("component", "dispatcher")),
	}, nil
}

// Dispatch runs the maneuver for tag.
func (d *Dispatcher) Dispatch(ctx context.Context, tag domain.StrategyTag, call Call, params domain.ManeuverParams) (Outcome, error) {
	var m Maneuver
	switch tag {
	case domain.StrategyArbitrage:
		m = d.maneuvers.Arbitrage
	case domain.StrategyLiquidation:
		m = d.maneuvers.Liquidation
	case domain.StrategyFrontRun:
		m = d.maneuvers.FrontRun
	case domain.StrategySandwich:
		m = d.maneuvers.Sandwich
	case domain.StrategyHighFrequency:
		m = d.maneuvers.HighFrequency
	default:
		return Outcome{}, domain.Failf(domain.ErrUnknownStrategy, "dispatcher", "tag %d", uint8(tag))
	}

	d.logger.Debug("dispatching maneuver",
		slog.String("strategy", tag.String()),
		slog.String("asset", call.Asset.Hex()),
		slog.String("amount", call.Amount.String()),
	)
	out, err := m.Run(ctx, call, params)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: %w", tag, err)
	}
	return out, nil
}
