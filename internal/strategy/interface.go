// Package strategy holds the five maneuvers and the dispatcher that routes a
// strategy tag to exactly one of them.
package strategy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/liquidation"
)

// Call is the execution context of one maneuver: the working capital, the
// cost it must beat in the same asset, and the leg deadline.
type Call struct {
	Asset    common.Address
	Amount   *big.Int
	Cost     *big.Int
	Deadline uint64
}

// Outcome is what a maneuver that passed the profitability guard produced.
type Outcome struct {
	Legs        []domain.LegResult
	Initial     *big.Int
	Final       *big.Int
	Profit      *big.Int
	Payout      *big.Int
	Liquidation *liquidation.Result
}

// Maneuver runs one strategy against working capital held in custody.
type Maneuver interface {
	Run(ctx context.Context, call Call, params domain.ManeuverParams) (Outcome, error)
}
