package sim

import (
	"context"
	"math/big"
	"sync"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Feed is a settable price feed.
type Feed struct {
	name string

	mu    sync.Mutex
	round domain.PriceRound
}

// NewFeed creates a feed with the given answer scale.
func NewFeed(name string, decimals uint8) *Feed {
	return &Feed{name: name, round: domain.PriceRound{Decimals: decimals}}
}

func (f *Feed) Name() string { return f.name }

// SetPrice publishes a new round answered at updatedAt.
func (f *Feed) SetPrice(answer *big.Int, updatedAt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := big.NewInt(1)
	if f.round.RoundID != nil {
		next.Add(f.round.RoundID, big.NewInt(1))
	}
	f.round = domain.PriceRound{
		RoundID:         next,
		Answer:          new(big.Int).Set(answer),
		UpdatedAt:       updatedAt,
		AnsweredInRound: new(big.Int).Set(next),
		Decimals:        f.round.Decimals,
	}
}

// SetRound publishes a round verbatim, including inconsistent metadata.
func (f *Feed) SetRound(round domain.PriceRound) {
	f.mu.Lock()
	f.round = round
	f.mu.Unlock()
}

func (f *Feed) LatestPrice(context.Context) (domain.PriceRound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.round, nil
}

var _ domain.PriceFeed = (*Feed)(nil)
