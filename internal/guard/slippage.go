// Package guard holds the checks every guarded call runs: slippage bounds,
// the profitability guard, the access and mutual-exclusion gate, and the
// allowance cache.
package guard

import (
	"math/big"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// MaxTolerancePct is the exclusive upper bound of a slippage tolerance.
const MaxTolerancePct = 100

// ValidateTolerance rejects tolerances outside [0, 100).
func ValidateTolerance(pct uint64) error {
	if pct >= MaxTolerancePct {
		return domain.Failf(domain.ErrInvalidTolerance, "slippage_guard", "tolerance %d%% must be below %d%%", pct, MaxTolerancePct)
	}
	return nil
}

// MinAcceptable returns quoted*(100-pct)/100, rounded down.
func MinAcceptable(quoted *big.Int, pct uint64) (*big.Int, error) {
	if err := ValidateTolerance(pct); err != nil {
		return nil, err
	}
	if quoted == nil || quoted.Sign() <= 0 {
		return new(big.Int), nil
	}
	out := new(big.Int).Mul(quoted, new(big.Int).SetUint64(MaxTolerancePct-pct))
	return out.Quo(out, big.NewInt(MaxTolerancePct)), nil
}

// Bound is the minimum a leg must deliver: the quote-derived minimum, raised
// to floor when the plan carries a stricter one.
func Bound(quoted *big.Int, pct uint64, floor *big.Int) (*big.Int, error) {
	minOut, err := MinAcceptable(quoted, pct)
	if err != nil {
		return nil, err
	}
	if floor != nil && floor.Cmp(minOut) > 0 {
		return new(big.Int).Set(floor), nil
	}
	return minOut, nil
}
