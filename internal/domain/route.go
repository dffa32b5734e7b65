package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LegPlan is one planned hop of a route as the operator supplies it. The
// input amount is not part of the plan; it is decided when the route runs.
type LegPlan struct {
	AssetIn      common.Address `json:"asset_in"`
	AssetOut     common.Address `json:"asset_out"`
	Venue        string         `json:"venue"`
	TolerancePct uint64         `json:"tolerance_pct"`
	MinAmountOut *big.Int       `json:"min_amount_out,omitempty"` // optional planning floor
}

// Leg is a trade leg bound to a concrete input amount. It is consumed once.
type Leg struct {
	AssetIn      common.Address
	AssetOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Venue        string
}

// LegResult records what one executed leg quoted and realized.
type LegResult struct {
	Leg      Leg
	Quoted   *big.Int
	Realized *big.Int
}

// RouteResult is the outcome of a fully executed route.
type RouteResult struct {
	InitialInput *big.Int
	FinalOutput  *big.Int
	Legs         []LegResult
}
