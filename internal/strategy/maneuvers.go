package strategy

import (
	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/liquidation"
	"github.com/alanyoungcy/flashbot/internal/route"
)

// Standard wires the five maneuvers on top of one composer and liquidator.
func Standard(composer *route.Composer, liquidator *liquidation.Liquidator, feeds FeedLookup, clock domain.Clock, maxPriceAge uint64) Maneuvers {
	arb := NewArbitrage(composer)
	return Maneuvers{
		Arbitrage:     arb,
		Liquidation:   NewLiquidation(liquidator, composer),
		FrontRun:      NewFrontRun(composer),
		Sandwich:      NewSandwich(composer),
		HighFrequency: NewHighFrequency(arb, feeds, clock, maxPriceAge),
	}
}
