// Package feed applies operator price updates to the simulated price feeds.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/sim"
)

// PriceChannel is the Pub/Sub channel price updates arrive on.
const PriceChannel = "flashbot:prices"

// ErrUnknownFeed is returned for an update naming a feed that was not seeded.
var ErrUnknownFeed = errors.New("feed: unknown feed")

// priceEvent is the JSON shape published to PriceChannel. Price is in whole
// quote units ("2013.25"); UpdatedAt is a unix timestamp and defaults to the
// simulated clock.
type priceEvent struct {
	Feed      string `json:"feed"`
	Price     string `json:"price"`
	UpdatedAt uint64 `json:"updated_at,omitempty"`
}

// PriceFeeder subscribes to PriceChannel and publishes each update as a new
// round on the named feed, mirroring it into the quote cache when one is set.
type PriceFeeder struct {
	bus    domain.SignalBus
	env    *sim.Env
	quotes domain.QuoteCache
	logger *slog.Logger
}

// NewPriceFeeder creates a PriceFeeder. quotes may be nil.
func NewPriceFeeder(bus domain.SignalBus, env *sim.Env, quotes domain.QuoteCache, logger *slog.Logger) *PriceFeeder {
	return &PriceFeeder{
		bus:    bus,
		env:    env,
		quotes: quotes,
		logger: logger.With(slog.String("component", "price_feeder")),
	}
}

// Run consumes updates until ctx is cancelled or the subscription closes.
func (f *PriceFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, PriceChannel)
	if err != nil {
		return err
	}
	f.logger.Info("price feeder started")
	defer f.logger.Info("price feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.Apply(ctx, data); err != nil {
				f.logger.Warn("price update rejected",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

// Apply decodes one update and publishes it.
func (f *PriceFeeder) Apply(ctx context.Context, data []byte) error {
	var ev priceEvent
	if err := sonnet.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("feed: decode: %w", err)
	}
	name := strings.TrimSpace(ev.Feed)
	pf, ok := f.env.Feeds[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownFeed, name)
	}
	round, err := pf.LatestPrice(ctx)
	if err != nil {
		return err
	}

	price, err := decimal.NewFromString(strings.TrimSpace(ev.Price))
	if err != nil {
		return fmt.Errorf("feed: price %q: %w", ev.Price, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("feed: price %q must be positive", ev.Price)
	}
	answer := price.Shift(int32(round.Decimals)).Truncate(0).BigInt()

	at := ev.UpdatedAt
	if at == 0 {
		at = f.env.Chain.Now()
	}
	pf.SetPrice(answer, at)

	f.logger.Debug("feed price updated",
		slog.String("feed", name),
		slog.String("answer", answer.String()),
		slog.Uint64("updated_at", at),
	)

	if f.quotes == nil {
		return nil
	}
	round, err = pf.LatestPrice(ctx)
	if err != nil {
		return err
	}
	return f.quotes.SetRound(ctx, name, round)
}
