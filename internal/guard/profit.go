package guard

import (
	"math/big"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// ProfitCheck is the result of a passed profitability guard.
type ProfitCheck struct {
	Profit *big.Int // final - initial
	Cost   *big.Int
	Payout *big.Int // profit - cost, always > 0
}

// CheckProfit nets a route's final output against its initial input and the
// acquisition cost, all in the same asset. Break-even fails.
func CheckProfit(initial, final, cost *big.Int) (ProfitCheck, error) {
	if initial == nil || final == nil {
		return ProfitCheck{}, domain.Failf(domain.ErrInvalidManeuver, "profit_guard", "missing route amounts")
	}
	profit := new(big.Int).Sub(final, initial)
	payout, err := RequireProfit(profit, cost)
	if err != nil {
		return ProfitCheck{}, err
	}
	return ProfitCheck{Profit: profit, Cost: costOrZero(cost), Payout: payout}, nil
}

// RequireProfit returns profit - cost when profit > cost, and Unprofitable
// otherwise.
func RequireProfit(profit, cost *big.Int) (*big.Int, error) {
	c := costOrZero(cost)
	if c.Sign() < 0 {
		return nil, domain.Failf(domain.ErrInvalidManeuver, "profit_guard", "negative cost %s", c)
	}
	if profit == nil || profit.Cmp(c) <= 0 {
		return nil, domain.Failf(domain.ErrUnprofitable, "profit_guard", "profit %s does not exceed cost %s", valueString(profit), c)
	}
	return new(big.Int).Sub(profit, c), nil
}

func costOrZero(cost *big.Int) *big.Int {
	if cost == nil {
		return new(big.Int)
	}
	return cost
}

func valueString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
