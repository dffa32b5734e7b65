package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

var (
	ErrExpired               = errors.New("sim: router: expired")
	ErrInsufficientOutput    = errors.New("sim: router: insufficient output amount")
	ErrInsufficientInput     = errors.New("sim: router: insufficient input amount")
	ErrInsufficientLiquidity = errors.New("sim: router: insufficient liquidity")
	ErrNoPair                = errors.New("sim: router: no pair for tokens")
	ErrInvalidPath           = errors.New("sim: router: invalid path")
	ErrTransferFailed        = errors.New("sim: transfer failed")
	ErrOverflow              = errors.New("sim: arithmetic overflow")
)

// FeeDenominator is the basis-point denominator of swap fees.
const FeeDenominator = 10_000

type pairKey struct {
	token0 common.Address
	token1 common.Address
}

func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

// Pair is a constant-product pool. Its reserves are its token balances on
// the chain, so they roll back with everything else.
type Pair struct {
	Address common.Address
	Token0  common.Address
	Token1  common.Address
}

// Router is a UniswapV2-style venue over a set of pairs.
type Router struct {
	chain   *Chain
	name    string
	address common.Address
	feeBps  uint64

	mu    sync.RWMutex
	pairs map[pairKey]Pair
}

// NewRouter creates a router charging feeBps on every hop.
func NewRouter(chain *Chain, name string, address common.Address, feeBps uint64) *Router {
	return &Router{
		chain:   chain,
		name:    name,
		address: address,
		feeBps:  feeBps,
		pairs:   make(map[pairKey]Pair),
	}
}

func (r *Router) Name() string            { return r.name }
func (r *Router) Address() common.Address { return r.address }

// AddPair registers a pair and mints its initial reserves.
func (r *Router) AddPair(pair, tokenA, tokenB common.Address, reserveA, reserveB *big.Int) {
	t0, t1 := sortTokens(tokenA, tokenB)
	r.mu.Lock()
	r.pairs[pairKey{t0, t1}] = Pair{Address: pair, Token0: t0, Token1: t1}
	r.mu.Unlock()
	r.chain.Mint(tokenA, pair, reserveA)
	r.chain.Mint(tokenB, pair, reserveB)
}

// Pairs returns every registered pair.
func (r *Router) Pairs() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	return out
}

// Reserves returns the reserves of the pair trading tokenIn for tokenOut,
// oriented in that direction.
func (r *Router) Reserves(tokenIn, tokenOut common.Address) (reserveIn, reserveOut *big.Int, pair common.Address, err error) {
	p, ok := r.pairFor(tokenIn, tokenOut)
	if !ok {
		return nil, nil, common.Address{}, fmt.Errorf("%w: %s/%s", ErrNoPair, tokenIn.Hex(), tokenOut.Hex())
	}
	return r.chain.Balance(tokenIn, p.Address), r.chain.Balance(tokenOut, p.Address), p.Address, nil
}

// GetAmountsOut returns the amount at every step of path for amountIn.
func (r *Router) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		reserveIn, reserveOut, _, err := r.Reserves(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		out, err := AmountOut(amounts[i], reserveIn, reserveOut, r.feeBps)
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// Quote returns the output of amountIn along path at current reserves.
func (r *Router) Quote(_ context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	amounts, err := r.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	return amounts[len(amounts)-1], nil
}

// Swap pulls amountIn from caller, which must have approved the router, and
// sends the output to recipient.
func (r *Router) Swap(ctx context.Context, caller common.Address, amountIn, minAmountOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error) {
	if r.chain.Now() > deadline {
		return nil, ErrExpired
	}
	amounts, err := r.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	if minAmountOut != nil && amounts[len(amounts)-1].Cmp(minAmountOut) < 0 {
		return nil, domain.Fail(domain.ErrSlippageExceeded, r.name,
			fmt.Errorf("%w: %s < %s", ErrInsufficientOutput, amounts[len(amounts)-1], minAmountOut))
	}

	first, _ := r.pairFor(path[0], path[1])
	ok, err := r.chain.TransferFrom(ctx, path[0], r.address, caller, first.Address, amountIn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: pull %s of %s from %s", ErrTransferFailed, amountIn, path[0].Hex(), caller.Hex())
	}

	for i := 0; i < len(path)-1; i++ {
		from, _ := r.pairFor(path[i], path[i+1])
		to := recipient
		if i < len(path)-2 {
			next, _ := r.pairFor(path[i+1], path[i+2])
			to = next.Address
		}
		ok, err := r.chain.Transfer(ctx, path[i+1], from.Address, to, amounts[i+1])
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: pair %s out of %s", ErrTransferFailed, from.Address.Hex(), path[i+1].Hex())
		}
	}
	return amounts, nil
}

func (r *Router) pairFor(a, b common.Address) (Pair, bool) {
	t0, t1 := sortTokens(a, b)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[pairKey{t0, t1}]
	return p, ok
}

// AmountOut is the constant-product output for amountIn with a fee in basis
// points, computed in 256-bit arithmetic with overflow checks.
func AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInput
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	if feeBps >= FeeDenominator {
		return nil, fmt.Errorf("sim: fee %d bps out of range", feeBps)
	}
	in, of1 := uint256.FromBig(amountIn)
	rIn, of2 := uint256.FromBig(reserveIn)
	rOut, of3 := uint256.FromBig(reserveOut)
	if of1 || of2 || of3 {
		return nil, ErrOverflow
	}

	withFee, of1 := new(uint256.Int).MulOverflow(in, uint256.NewInt(FeeDenominator-feeBps))
	num, of2 := new(uint256.Int).MulOverflow(withFee, rOut)
	den, of3 := new(uint256.Int).MulOverflow(rIn, uint256.NewInt(FeeDenominator))
	den, of4 := den.AddOverflow(den, withFee)
	if of1 || of2 || of3 || of4 {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Div(num, den).ToBig(), nil
}

var _ domain.Venue = (*Router)(nil)
