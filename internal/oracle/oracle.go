// Package oracle reads expected trade outputs from venues and latest prices
// from feeds, turning every unreachable or malformed answer into
// OracleUnavailable.
package oracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Quoter is the quoting half of a venue.
type Quoter interface {
	Name() string
	Quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error)
}

// Quote asks venue for the output of amountIn along path. A zero or negative
// quote is malformed, never a zero-output success.
func Quote(ctx context.Context, venue Quoter, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	out, err := venue.Quote(ctx, amountIn, path)
	if err != nil {
		return nil, domain.Fail(domain.ErrOracleUnavailable, venue.Name(), err)
	}
	if out == nil || out.Sign() <= 0 {
		return nil, domain.Failf(domain.ErrOracleUnavailable, venue.Name(), "non-positive quote %v", out)
	}
	return out, nil
}

// Price reads the latest round from feed and rejects it when the answer is
// non-positive, the round is incomplete or carried over, or the update is
// older than maxAge seconds at now. maxAge of zero disables the age check.
func Price(ctx context.Context, feed domain.PriceFeed, now, maxAge uint64) (domain.PriceRound, error) {
	round, err := feed.LatestPrice(ctx)
	if err != nil {
		return domain.PriceRound{}, domain.Fail(domain.ErrOracleUnavailable, feed.Name(), err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return domain.PriceRound{}, domain.Failf(domain.ErrOracleUnavailable, feed.Name(), "non-positive answer %v", round.Answer)
	}
	if round.UpdatedAt == 0 {
		return domain.PriceRound{}, domain.Failf(domain.ErrOracleUnavailable, feed.Name(), "round incomplete")
	}
	if round.RoundID != nil && round.AnsweredInRound != nil && round.AnsweredInRound.Cmp(round.RoundID) < 0 {
		return domain.PriceRound{}, domain.Failf(domain.ErrOracleUnavailable, feed.Name(), "stale round %s answered in %s", round.RoundID, round.AnsweredInRound)
	}
	if maxAge > 0 && now > round.UpdatedAt && now-round.UpdatedAt > maxAge {
		return domain.PriceRound{}, domain.Failf(domain.ErrOracleUnavailable, feed.Name(), "price is %ds old, limit %ds", now-round.UpdatedAt, maxAge)
	}
	return round, nil
}
