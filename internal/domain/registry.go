package domain

import "github.com/ethereum/go-ethereum/common"

// Registry resolves the external collaborators named in operator records.
type Registry struct {
	Venues           map[string]Venue
	PoolProtocols    map[string]PoolLendingProtocol
	IncentiveMarkets map[string]IncentiveMarket
	Feeds            map[string]PriceFeed
	CollateralFeeds  map[common.Address]string // asset -> feed name
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Venues:           make(map[string]Venue),
		PoolProtocols:    make(map[string]PoolLendingProtocol),
		IncentiveMarkets: make(map[string]IncentiveMarket),
		Feeds:            make(map[string]PriceFeed),
		CollateralFeeds:  make(map[common.Address]string),
	}
}

func (r *Registry) AddVenue(v Venue) { r.Venues[v.Name()] = v }
func (r *Registry) AddPoolProtocol(p PoolLendingProtocol) { r.PoolProtocols[p.Name()] = p }
func (r *Registry) AddIncentiveMarket(m IncentiveMarket) { r.IncentiveMarkets[m.Name()] = m }

// AddFeed registers a feed and, when asset is non-zero, maps the asset to it.
func (r *Registry) AddFeed(f PriceFeed, asset common.Address) {
	r.Feeds[f.Name()] = f
	if asset != (common.Address{}) {
		r.CollateralFeeds[asset] = f.Name()
	}
}

func (r *Registry) Venue(name string) (Venue, bool) {
	v, ok := r.Venues[name]
	return v, ok
}

func (r *Registry) PoolProtocol(name string) (PoolLendingProtocol, bool) {
	p, ok := r.PoolProtocols[name]
	return p, ok
}

func (r *Registry) IncentiveMarket(name string) (IncentiveMarket, bool) {
	m, ok := r.IncentiveMarkets[name]
	return m, ok
}

func (r *Registry) Feed(name string) (PriceFeed, bool) {
	f, ok := r.Feeds[name]
	return f, ok
}

// FeedFor returns the feed mapped to asset.
func (r *Registry) FeedFor(asset common.Address) (PriceFeed, bool) {
	name, ok := r.CollateralFeeds[asset]
	if !ok {
		return nil, false
	}
	return r.Feed(name)
}
