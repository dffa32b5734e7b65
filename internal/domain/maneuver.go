package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FundingSource selects where a maneuver's working capital comes from.
type FundingSource string

const (
	FundingCustody   FundingSource = "custody"
	FundingFlashLoan FundingSource = "flashloan"
)

// LiquidationMechanics selects the lending protocol family.
type LiquidationMechanics string

const (
	LiquidationPool      LiquidationMechanics = "pool"      // liquidationCall style
	LiquidationIncentive LiquidationMechanics = "incentive" // liquidateBorrow + seize style
)

// LiquidationPosition is a read-only view of an undercollateralized borrow.
type LiquidationPosition struct {
	Borrower        common.Address `json:"borrower"`
	CollateralAsset common.Address `json:"collateral_asset"`
	DebtAsset       common.Address `json:"debt_asset"`
	DebtToCover     *big.Int       `json:"debt_to_cover"`
}

// LiquidationPlan describes one liquidation and how seized collateral is
// turned back into the debt asset.
type LiquidationPlan struct {
	Mechanics              LiquidationMechanics `json:"mechanics"`
	Protocol               string               `json:"protocol"`
	Position               LiquidationPosition  `json:"position"`
	CollateralMarket       common.Address       `json:"collateral_market,omitempty"`
	ReceiveCollateralToken bool                 `json:"receive_collateral_token,omitempty"`
	SwapBack               []LegPlan            `json:"swap_back,omitempty"`
}

// PriceTrigger is the band a feed price must sit in for a high-frequency
// maneuver to trade.
type PriceTrigger struct {
	Feed     string   `json:"feed"`
	MinPrice *big.Int `json:"min_price,omitempty"`
	MaxPrice *big.Int `json:"max_price,omitempty"`
}

// ManeuverParams are the strategy-specific parameters of a maneuver. Which
// fields are read depends on the strategy tag.
type ManeuverParams struct {
	Route       []LegPlan        `json:"route,omitempty"`
	Exit        []LegPlan        `json:"exit,omitempty"`
	FrontBps    uint64           `json:"front_bps,omitempty"`
	Trigger     *PriceTrigger    `json:"trigger,omitempty"`
	Liquidation *LiquidationPlan `json:"liquidation,omitempty"`
}

// Maneuver is the structured record an operator submits to the engine.
type Maneuver struct {
	ID              string         `json:"id"`
	Strategy        StrategyTag    `json:"strategy"`
	Funding         FundingSource  `json:"funding"`
	Asset           common.Address `json:"asset"`
	Amount          *big.Int       `json:"amount"`
	LoanFractionBps uint64         `json:"loan_fraction_bps,omitempty"`
	Cost            *big.Int       `json:"cost"`
	Beneficiary     common.Address `json:"beneficiary"`
	Params          ManeuverParams `json:"params"`
}

// LoanObligation is created for each borrowed-capital request and must be
// repaid before the call that created it returns.
type LoanObligation struct {
	Asset     common.Address
	Principal *big.Int
	Premium   *big.Int
	Strategy  StrategyTag
	Repaid    bool
}
