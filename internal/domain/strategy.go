package domain

import (
	"fmt"
	"strings"
)

// StrategyTag identifies a maneuver. The set is closed; the zero value is
// not a strategy.
type StrategyTag uint8

const (
	StrategyArbitrage StrategyTag = iota + 1
	StrategyLiquidation
	StrategyFrontRun
	StrategySandwich
	StrategyHighFrequency
)

// StrategyTags lists every known tag in wire order.
var StrategyTags = []StrategyTag{
	StrategyArbitrage,
	StrategyLiquidation,
	StrategyFrontRun,
	StrategySandwich,
	StrategyHighFrequency,
}

func (t StrategyTag) String() string {
	switch t {
	case StrategyArbitrage:
		return "arbitrage"
	case StrategyLiquidation:
		return "liquidation"
	case StrategyFrontRun:
		return "frontrun"
	case StrategySandwich:
		return "sandwich"
	case StrategyHighFrequency:
		return "hft"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the known tags.
func (t StrategyTag) Valid() bool {
	return t >= StrategyArbitrage && t <= StrategyHighFrequency
}

// ParseStrategyTag accepts the names used in config files and API requests.
func ParseStrategyTag(s string) (StrategyTag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arbitrage", "arb":
		return StrategyArbitrage, nil
	case "liquidation":
		return StrategyLiquidation, nil
	case "frontrun", "frontrunning", "front_run":
		return StrategyFrontRun, nil
	case "sandwich":
		return StrategySandwich, nil
	case "hft", "high_frequency":
		return StrategyHighFrequency, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

func (t StrategyTag) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *StrategyTag) UnmarshalText(b []byte) error {
	tag, err := ParseStrategyTag(string(b))
	if err != nil {
		return err
	}
	*t = tag
	return nil
}
