package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Feed is a live Chainlink-style aggregator.
type Feed struct {
	client  *Client
	name    string
	address common.Address
}

// NewFeed binds an aggregator at address.
func NewFeed(client *Client, name string, address common.Address) *Feed {
	return &Feed{client: client, name: name, address: address}
}

func (f *Feed) Name() string { return f.name }

// LatestPrice reads the aggregator's latest round.
func (f *Feed) LatestPrice(ctx context.Context) (domain.PriceRound, error) {
	return f.client.LatestRound(ctx, f.address)
}

var _ domain.PriceFeed = (*Feed)(nil)
