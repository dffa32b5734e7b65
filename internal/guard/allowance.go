package guard

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

type allowanceKey struct {
	asset   common.Address
	spender common.Address
}

// Allowances tracks the spending grants the custody account has issued and
// re-approves a spender only when the current grant is too small. Grants are
// sized to the amount needed, never unbounded.
type Allowances struct {
	ledger domain.Ledger
	owner  common.Address

	mu      sync.Mutex
	granted map[allowanceKey]*big.Int
}

// NewAllowances creates an allowance cache for owner.
func NewAllowances(ledger domain.Ledger, owner common.Address) *Allowances {
	return &Allowances{
		ledger:  ledger,
		owner:   owner,
		granted: make(map[allowanceKey]*big.Int),
	}
}

// Ensure makes sure spender may pull at least amount of asset.
func (a *Allowances) Ensure(ctx context.Context, asset, spender common.Address, amount *big.Int) error {
	key := allowanceKey{asset: asset, spender: spender}

	a.mu.Lock()
	cached := a.granted[key]
	a.mu.Unlock()
	if cached != nil && cached.Cmp(amount) >= 0 {
		return nil
	}

	current, err := a.ledger.Allowance(ctx, asset, a.owner, spender)
	if err != nil {
		return domain.Fail(domain.ErrExternalCallFailed, asset.Hex(), fmt.Errorf("allowance: %w", err))
	}
	if current != nil && current.Cmp(amount) >= 0 {
		a.store(key, current)
		return nil
	}

	ok, err := a.ledger.Approve(ctx, asset, a.owner, spender, amount)
	if err != nil {
		return domain.Fail(domain.ErrExternalCallFailed, asset.Hex(), fmt.Errorf("approve %s: %w", spender.Hex(), err))
	}
	if !ok {
		return domain.Failf(domain.ErrExternalCallFailed, asset.Hex(), "approve %s refused", spender.Hex())
	}
	a.store(key, amount)
	return nil
}

// Spent lowers the cached grant after spender pulled amount.
func (a *Allowances) Spent(asset, spender common.Address, amount *big.Int) {
	key := allowanceKey{asset: asset, spender: spender}
	a.mu.Lock()
	defer a.mu.Unlock()

	cached, ok := a.granted[key]
	if !ok {
		return
	}
	left := new(big.Int).Sub(cached, amount)
	if left.Sign() <= 0 {
		delete(a.granted, key)
		return
	}
	a.granted[key] = left
}

// Reset forgets every cached grant. It must be called whenever the ledger
// is rolled back.
func (a *Allowances) Reset() {
	a.mu.Lock()
	a.granted = make(map[allowanceKey]*big.Int)
	a.mu.Unlock()
}

func (a *Allowances) store(key allowanceKey, amount *big.Int) {
	a.mu.Lock()
	a.granted[key] = new(big.Int).Set(amount)
	a.mu.Unlock()
}
