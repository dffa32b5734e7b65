// Package sim is an in-memory execution environment with a journaled ledger,
// UniswapV2-style venues, a flash-loan pool, lending markets and price feeds.
// Every state change goes through the chain journal, so a snapshot taken at
// the start of a guarded call can roll the whole environment back.
package sim

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

var (
	ErrNegativeAmount = errors.New("sim: negative amount")
	ErrBadSnapshot    = errors.New("sim: unknown snapshot")
)

type balanceKey struct {
	asset  common.Address
	holder common.Address
}

type allowanceKey struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

type slotKey struct {
	contract common.Address
	slot     string
}

type revision struct {
	id           int
	journalIndex int
}

// Chain is a journaled ledger plus contract storage and a block clock.
type Chain struct {
	mu         sync.Mutex
	now        uint64
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	storage    map[slotKey]*big.Int

	journal   []func()
	revisions []revision
	nextRevID int
}

// NewChain creates an empty chain whose clock starts at now.
func NewChain(now uint64) *Chain {
	return &Chain{
		now:        now,
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		storage:    make(map[slotKey]*big.Int),
	}
}

// Now returns the block time.
func (c *Chain) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SetTime moves the clock. Clock moves are not journaled.
func (c *Chain) SetTime(now uint64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d seconds.
func (c *Chain) Advance(d uint64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Snapshot returns a revision id for RevertToSnapshot.
func (c *Chain) Snapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextRevID
	c.nextRevID++
	c.revisions = append(c.revisions, revision{id: id, journalIndex: len(c.journal)})
	return id
}

// RevertToSnapshot undoes every change made since the snapshot was taken.
// Reverting to an unknown id panics, matching the contract of journaled
// state databases.
func (c *Chain) RevertToSnapshot(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i := len(c.revisions) - 1; i >= 0; i-- {
		if c.revisions[i].id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(ErrBadSnapshot)
	}
	target := c.revisions[idx].journalIndex
	for i := len(c.journal) - 1; i >= target; i-- {
		c.journal[i]()
	}
	c.journal = c.journal[:target]
	c.revisions = c.revisions[:idx]
}

// Commit keeps every change made since the snapshot and forgets the
// snapshot along with any taken after it.
func (c *Chain) Commit(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.revisions) - 1; i >= 0; i-- {
		if c.revisions[i].id == id {
			c.revisions = c.revisions[:i]
			break
		}
	}
	if len(c.revisions) == 0 {
		c.journal = nil
	}
}

// BalanceOf returns holder's balance of asset.
func (c *Chain) BalanceOf(_ context.Context, asset, holder common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked(asset, holder), nil
}

// Balance is BalanceOf without a context, for seeding and assertions.
func (c *Chain) Balance(asset, holder common.Address) *big.Int {
	bal, _ := c.BalanceOf(context.Background(), asset, holder)
	return bal
}

// Allowance returns how much spender may pull from holder.
func (c *Chain) Allowance(_ context.Context, asset, holder, spender common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.allowances[allowanceKey{asset, holder, spender}]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

// Approve sets spender's allowance over owner's asset.
func (c *Chain) Approve(_ context.Context, asset, owner, spender common.Address, amount *big.Int) (bool, error) {
	if amount.Sign() < 0 {
		return false, ErrNegativeAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setAllowanceLocked(allowanceKey{asset, owner, spender}, amount)
	return true, nil
}

// Transfer moves amount from from to to. It returns false when from's
// balance is too small.
func (c *Chain) Transfer(_ context.Context, asset, from, to common.Address, amount *big.Int) (bool, error) {
	if amount.Sign() < 0 {
		return false, ErrNegativeAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transferLocked(asset, from, to, amount), nil
}

// TransferFrom moves amount on behalf of spender, consuming its allowance.
func (c *Chain) TransferFrom(_ context.Context, asset, spender, from, to common.Address, amount *big.Int) (bool, error) {
	if amount.Sign() < 0 {
		return false, ErrNegativeAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := allowanceKey{asset, from, spender}
	allowed, ok := c.allowances[key]
	if !ok || allowed.Cmp(amount) < 0 {
		return false, nil
	}
	if c.balanceLocked(asset, from).Cmp(amount) < 0 {
		return false, nil
	}
	c.setAllowanceLocked(key, new(big.Int).Sub(allowed, amount))
	return c.transferLocked(asset, from, to, amount), nil
}

// Mint credits holder with amount of asset.
func (c *Chain) Mint(asset, holder common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := balanceKey{asset, holder}
	c.setBalanceLocked(k, new(big.Int).Add(c.balanceLocked(asset, holder), amount))
}

// Load reads a storage slot of contract. Missing slots read as zero.
func (c *Chain) Load(contract common.Address, slot string) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.storage[slotKey{contract, slot}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Store writes a storage slot of contract.
func (c *Chain) Store(contract common.Address, slot string, value *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := slotKey{contract, slot}
	prev, had := c.storage[key]
	c.record(func() {
		if had {
			c.storage[key] = prev
		} else {
			delete(c.storage, key)
		}
	})
	c.storage[key] = new(big.Int).Set(value)
}

func (c *Chain) balanceLocked(asset, holder common.Address) *big.Int {
	if v, ok := c.balances[balanceKey{asset, holder}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (c *Chain) transferLocked(asset, from, to common.Address, amount *big.Int) bool {
	fromBal := c.balanceLocked(asset, from)
	if fromBal.Cmp(amount) < 0 {
		return false
	}
	if from == to || amount.Sign() == 0 {
		return true
	}
	c.setBalanceLocked(balanceKey{asset, from}, fromBal.Sub(fromBal, amount))
	toBal := c.balanceLocked(asset, to)
	c.setBalanceLocked(balanceKey{asset, to}, toBal.Add(toBal, amount))
	return true
}

func (c *Chain) setBalanceLocked(key balanceKey, value *big.Int) {
	prev, had := c.balances[key]
	c.record(func() {
		if had {
			c.balances[key] = prev
		} else {
			delete(c.balances, key)
		}
	})
	c.balances[key] = value
}

func (c *Chain) setAllowanceLocked(key allowanceKey, value *big.Int) {
	prev, had := c.allowances[key]
	c.record(func() {
		if had {
			c.allowances[key] = prev
		} else {
			delete(c.allowances, key)
		}
	})
	c.allowances[key] = new(big.Int).Set(value)
}

// record appends an undo entry. Changes made while no snapshot is open can
// never be reverted, so they are not journaled.
func (c *Chain) record(undo func()) {
	if len(c.revisions) == 0 {
		return
	}
	c.journal = append(c.journal, undo)
}

var _ domain.Chain = (*Chain)(nil)
