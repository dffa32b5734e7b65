package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Maneuver converts the record into the engine's form. Every field the
// strategy needs is resolved here; the engine reads no defaults of its own.
func (m ManeuverConfig) Maneuver() (domain.Maneuver, error) {
	tag, err := domain.ParseStrategyTag(m.Strategy)
	if err != nil {
		return domain.Maneuver{}, err
	}
	funding := domain.FundingSource(m.Funding)
	switch funding {
	case "":
		funding = domain.FundingCustody
	case domain.FundingCustody, domain.FundingFlashLoan:
	default:
		return domain.Maneuver{}, fmt.Errorf("unknown funding %q", m.Funding)
	}

	out := domain.Maneuver{
		ID:              m.ID,
		Strategy:        tag,
		Funding:         funding,
		LoanFractionBps: m.LoanFractionBps,
	}
	if out.Asset, err = parseAddr("asset", m.Asset); err != nil {
		return domain.Maneuver{}, err
	}
	if out.Beneficiary, err = parseAddr("beneficiary", m.Beneficiary); err != nil {
		return domain.Maneuver{}, err
	}
	if out.Amount, err = ParseAmount(m.Amount); err != nil {
		return domain.Maneuver{}, err
	}
	if out.Cost, err = ParseAmount(m.Cost); err != nil {
		return domain.Maneuver{}, err
	}

	params := domain.ManeuverParams{FrontBps: m.FrontBps}
	if params.Route, err = legPlans(m.Route); err != nil {
		return domain.Maneuver{}, fmt.Errorf("route: %w", err)
	}
	if params.Exit, err = legPlans(m.Exit); err != nil {
		return domain.Maneuver{}, fmt.Errorf("exit: %w", err)
	}
	if m.Trigger != nil {
		trig := &domain.PriceTrigger{Feed: m.Trigger.Feed}
		if m.Trigger.MinPrice != "" {
			if trig.MinPrice, err = ParseAmount(m.Trigger.MinPrice); err != nil {
				return domain.Maneuver{}, fmt.Errorf("trigger: %w", err)
			}
		}
		if m.Trigger.MaxPrice != "" {
			if trig.MaxPrice, err = ParseAmount(m.Trigger.MaxPrice); err != nil {
				return domain.Maneuver{}, fmt.Errorf("trigger: %w", err)
			}
		}
		params.Trigger = trig
	}
	if m.Liquidation != nil {
		plan, err := m.Liquidation.plan()
		if err != nil {
			return domain.Maneuver{}, fmt.Errorf("liquidation: %w", err)
		}
		params.Liquidation = &plan
	}
	out.Params = params
	return out, nil
}

func (l LiquidationPlanConfig) plan() (domain.LiquidationPlan, error) {
	var (
		plan domain.LiquidationPlan
		err  error
	)
	switch domain.LiquidationMechanics(l.Mechanics) {
	case domain.LiquidationPool, domain.LiquidationIncentive:
		plan.Mechanics = domain.LiquidationMechanics(l.Mechanics)
	default:
		return plan, fmt.Errorf("unknown mechanics %q", l.Mechanics)
	}
	plan.Protocol = l.Protocol
	plan.ReceiveCollateralToken = l.ReceiveCollateralToken
	if plan.Position.Borrower, err = parseAddr("borrower", l.Borrower); err != nil {
		return plan, err
	}
	if plan.Position.CollateralAsset, err = parseAddr("collateral_asset", l.CollateralAsset); err != nil {
		return plan, err
	}
	if plan.Position.DebtAsset, err = parseAddr("debt_asset", l.DebtAsset); err != nil {
		return plan, err
	}
	if plan.Position.DebtToCover, err = ParseAmount(l.DebtToCover); err != nil {
		return plan, err
	}
	if l.CollateralMarket != "" {
		if plan.CollateralMarket, err = parseAddr("collateral_market", l.CollateralMarket); err != nil {
			return plan, err
		}
	}
	if plan.SwapBack, err = legPlans(l.SwapBack); err != nil {
		return plan, fmt.Errorf("swap_back: %w", err)
	}
	return plan, nil
}

func legPlans(legs []LegConfig) ([]domain.LegPlan, error) {
	if len(legs) == 0 {
		return nil, nil
	}
	out := make([]domain.LegPlan, 0, len(legs))
	for i, l := range legs {
		in, err := parseAddr("asset_in", l.AssetIn)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		outAsset, err := parseAddr("asset_out", l.AssetOut)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		var minOut *big.Int
		if l.MinAmountOut != "" {
			if minOut, err = ParseAmount(l.MinAmountOut); err != nil {
				return nil, fmt.Errorf("leg %d: %w", i, err)
			}
		}
		out = append(out, domain.LegPlan{
			AssetIn:      in,
			AssetOut:     outAsset,
			Venue:        l.Venue,
			TolerancePct: l.TolerancePct,
			MinAmountOut: minOut,
		})
	}
	return out, nil
}

func parseAddr(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s %q is not a hex address", field, v)
	}
	return common.HexToAddress(v), nil
}
