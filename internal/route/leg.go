// Package route executes trade legs against venues and chains them into
// routes whose realized outputs feed forward as the next leg's input.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/oracle"
)

// VenueSet resolves venue names used in leg plans.
type VenueSet interface {
	Venue(name string) (domain.Venue, bool)
}

// LegExecutor runs one swap at one venue out of the custody account.
type LegExecutor struct {
	ledger     domain.Ledger
	venues     VenueSet
	allowances *guard.Allowances
	custody    common.Address
	logger     *slog.Logger
}

// NewLegExecutor creates a LegExecutor that trades from and into custody.
func NewLegExecutor(ledger domain.Ledger, venues VenueSet, allowances *guard.Allowances, custody common.Address, logger *slog.Logger) *LegExecutor {
	return &LegExecutor{
		ledger:     ledger,
		venues:     venues,
		allowances: allowances,
		custody:    custody,
		logger:     logger.With(slog.String("component", "leg_executor")),
	}
}

// Execute quotes the leg, derives its minimum output, swaps, and checks the
// realized output against that minimum even when the venue accepted the
// trade. The venue must refuse the swap once deadline has passed.
func (x *LegExecutor) Execute(ctx context.Context, leg domain.Leg, tolerancePct uint64, deadline uint64) (domain.LegResult, error) {
	venue, ok := x.venues.Venue(leg.Venue)
	if !ok {
		return domain.LegResult{}, domain.Failf(domain.ErrInvalidRoute, leg.Venue, "unknown venue")
	}
	if leg.AmountIn == nil || leg.AmountIn.Sign() <= 0 {
		return domain.LegResult{}, domain.Failf(domain.ErrInvalidRoute, venue.Name(), "non-positive amount in %v", leg.AmountIn)
	}
	path := []common.Address{leg.AssetIn, leg.AssetOut}

	quoted, err := oracle.Quote(ctx, venue, leg.AmountIn, path)
	if err != nil {
		return domain.LegResult{}, err
	}
	bound, err := guard.Bound(quoted, tolerancePct, leg.MinAmountOut)
	if err != nil {
		return domain.LegResult{}, err
	}
	if quoted.Cmp(bound) < 0 {
		return domain.LegResult{}, domain.Failf(domain.ErrSlippageExceeded, venue.Name(), "quote %s below planned minimum %s", quoted, bound)
	}

	if err := x.allowances.Ensure(ctx, leg.AssetIn, venue.Address(), leg.AmountIn); err != nil {
		return domain.LegResult{}, err
	}

	before, err := x.balance(ctx, leg.AssetOut)
	if err != nil {
		return domain.LegResult{}, err
	}
	amounts, err := venue.Swap(ctx, x.custody, leg.AmountIn, bound, path, x.custody, deadline)
	if err != nil {
		if domain.IsExecError(err) {
			return domain.LegResult{}, err
		}
		return domain.LegResult{}, domain.Fail(domain.ErrExternalCallFailed, venue.Name(), err)
	}
	x.allowances.Spent(leg.AssetIn, venue.Address(), leg.AmountIn)

	after, err := x.balance(ctx, leg.AssetOut)
	if err != nil {
		return domain.LegResult{}, err
	}
	realized := new(big.Int).Sub(after, before)
	if n := len(amounts); n > 0 && amounts[n-1] != nil && amounts[n-1].Cmp(realized) != 0 {
		x.logger.Warn("venue reported output differs from received balance",
			slog.String("venue", venue.Name()),
			slog.String("reported", amounts[n-1].String()),
			slog.String("received", realized.String()),
		)
	}
	if realized.Cmp(bound) < 0 {
		return domain.LegResult{}, domain.Failf(domain.ErrSlippageExceeded, venue.Name(), "realized %s below minimum %s", realized, bound)
	}

	leg.MinAmountOut = bound
	x.logger.Debug("leg executed",
		slog.String("venue", venue.Name()),
		slog.String("amount_in", leg.AmountIn.String()),
		slog.String("quoted", quoted.String()),
		slog.String("realized", realized.String()),
	)
	return domain.LegResult{Leg: leg, Quoted: quoted, Realized: realized}, nil
}

func (x *LegExecutor) balance(ctx context.Context, asset common.Address) (*big.Int, error) {
	bal, err := x.ledger.BalanceOf(ctx, asset, x.custody)
	if err != nil {
		return nil, domain.Fail(domain.ErrExternalCallFailed, asset.Hex(), fmt.Errorf("balance of custody: %w", err))
	}
	return bal, nil
}
