package strategy

import (
	"context"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/oracle"
)

// FeedLookup resolves price feeds by name.
type FeedLookup interface {
	Feed(name string) (domain.PriceFeed, bool)
}

// HighFrequency trades a cyclic route only while a feed price sits inside
// the trigger band.
type HighFrequency struct {
	arb         *Arbitrage
	feeds       FeedLookup
	clock       domain.Clock
	maxPriceAge uint64
}

// NewHighFrequency creates the high-frequency maneuver.
func NewHighFrequency(arb *Arbitrage, feeds FeedLookup, clock domain.Clock, maxPriceAge uint64) *HighFrequency {
	return &HighFrequency{arb: arb, feeds: feeds, clock: clock, maxPriceAge: maxPriceAge}
}

func (h *HighFrequency) Run(ctx context.Context, call Call, params domain.ManeuverParams) (Outcome, error) {
	t := params.Trigger
	if t == nil || t.Feed == "" {
		return Outcome{}, domain.Failf(domain.ErrInvalidManeuver, "hft", "missing price trigger")
	}
	feed, ok := h.feeds.Feed(t.Feed)
	if !ok {
		return Outcome{}, domain.Failf(domain.ErrOracleUnavailable, t.Feed, "unknown feed")
	}
	round, err := oracle.Price(ctx, feed, h.clock.Now(), h.maxPriceAge)
	if err != nil {
		return Outcome{}, err
	}
	if t.MinPrice != nil && round.Answer.Cmp(t.MinPrice) < 0 {
		return Outcome{}, domain.Failf(domain.ErrUnprofitable, feed.Name(), "price %s below trigger %s", round.Answer, t.MinPrice)
	}
	if t.MaxPrice != nil && round.Answer.Cmp(t.MaxPrice) > 0 {
		return Outcome{}, domain.Failf(domain.ErrUnprofitable, feed.Name(), "price %s above trigger %s", round.Answer, t.MaxPrice)
	}
	return h.arb.Run(ctx, call, params)
}
