// Package liquidation estimates liquidation profit from external prices and
// incentive factors, and runs liquidations whose protocol results are
// checked after the fact.
package liquidation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/oracle"
)

// IncentiveScale is the mantissa scale of incentive factors (1e18).
var IncentiveScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

const bpsDenominator = 10_000

// Estimate is a pre-trade liquidation profit estimate. The protocol's own
// result is the ground truth.
type Estimate struct {
	Mechanics       domain.LiquidationMechanics
	Protocol        string
	Repay           *big.Int
	CollateralValue *big.Int // pool-style only
	SeizeAmount     *big.Int // incentive-style only
	Profit          *big.Int
	Round           *domain.PriceRound
}

// FeedSet resolves the price feed of a collateral asset.
type FeedSet interface {
	FeedFor(asset common.Address) (domain.PriceFeed, bool)
}

// Estimator computes liquidation estimates.
type Estimator struct {
	feeds       FeedSet
	clock       domain.Clock
	markupBps   uint64
	maxPriceAge uint64
}

// NewEstimator creates an Estimator. markupBps is the fixed share of
// collateral value a pool-style liquidation is expected to earn.
func NewEstimator(feeds FeedSet, clock domain.Clock, markupBps, maxPriceAge uint64) *Estimator {
	return &Estimator{feeds: feeds, clock: clock, markupBps: markupBps, maxPriceAge: maxPriceAge}
}

// Pool estimates a pool-style liquidation:
// collateral_value = price * debt_to_cover / scale, profit = value * markup.
func (e *Estimator) Pool(ctx context.Context, protocol string, pos domain.LiquidationPosition) (Estimate, error) {
	feed, ok := e.feeds.FeedFor(pos.CollateralAsset)
	if !ok {
		return Estimate{}, domain.Failf(domain.ErrOracleUnavailable, protocol, "no price feed for %s", pos.CollateralAsset.Hex())
	}
	round, err := oracle.Price(ctx, feed, e.clock.Now(), e.maxPriceAge)
	if err != nil {
		return Estimate{}, err
	}

	value := new(big.Int).Mul(round.Answer, pos.DebtToCover)
	value.Quo(value, round.Scale())
	profit := new(big.Int).Mul(value, new(big.Int).SetUint64(e.markupBps))
	profit.Quo(profit, big.NewInt(bpsDenominator))

	return Estimate{
		Mechanics:       domain.LiquidationPool,
		Protocol:        protocol,
		Repay:           new(big.Int).Set(pos.DebtToCover),
		CollateralValue: value,
		Profit:          profit,
		Round:           &round,
	}, nil
}

// Incentive estimates an incentive-style liquidation:
// seize = repay * incentive / 1e18, profit = seize - repay.
func (e *Estimator) Incentive(ctx context.Context, market domain.IncentiveMarket, repay *big.Int) (Estimate, error) {
	incentive, err := market.LiquidationIncentive(ctx)
	if err != nil {
		return Estimate{}, domain.Fail(domain.ErrOracleUnavailable, market.Name(), fmt.Errorf("liquidation incentive: %w", err))
	}
	if incentive == nil || incentive.Sign() <= 0 {
		return Estimate{}, domain.Failf(domain.ErrOracleUnavailable, market.Name(), "non-positive incentive %v", incentive)
	}

	seize := new(big.Int).Mul(repay, incentive)
	seize.Quo(seize, IncentiveScale)
	return Estimate{
		Mechanics:   domain.LiquidationIncentive,
		Protocol:    market.Name(),
		Repay:       new(big.Int).Set(repay),
		SeizeAmount: seize,
		Profit:      new(big.Int).Sub(seize, repay),
	}, nil
}
