package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Asset is display metadata for a token. The core only ever handles raw
// base-unit integers; decimals matter at the operator-facing edge.
type Asset struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int32          `json:"decimals"`
}

// AssetBook maps token addresses to their metadata.
type AssetBook map[common.Address]Asset

// Symbol returns the asset's symbol, or its hex address when unknown.
func (b AssetBook) Symbol(addr common.Address) string {
	if a, ok := b[addr]; ok && a.Symbol != "" {
		return a.Symbol
	}
	return addr.Hex()
}

// Units converts a base-unit amount into whole tokens. Unknown assets are
// returned unscaled.
func (b AssetBook) Units(addr common.Address, amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -b[addr].Decimals)
}

// Format renders amount in whole tokens, e.g. "1.25".
func (b AssetBook) Format(addr common.Address, amount *big.Int) string {
	if amount == nil {
		return ""
	}
	return b.Units(addr, amount).String()
}

// Parse converts a whole-token string such as "1.5" into base units. Digits
// beyond the asset's precision are truncated.
func (b AssetBook) Parse(addr common.Address, s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d.Shift(b[addr].Decimals).Truncate(0).BigInt(), nil
}
