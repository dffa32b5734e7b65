package sim

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

var (
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	weth   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	usdc   = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	pairAB = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	venue  = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	flash  = common.HexToAddress("0x00000000000000000000000000000000000000f3")
)

func TestAmountOut(t *testing.T) {
	out, err := AmountOut(big.NewInt(1000), big.NewInt(10_000), big.NewInt(10_000), 30)
	require.NoError(t, err)
	require.Equal(t, int64(906), out.Int64())

	_, err = AmountOut(big.NewInt(0), big.NewInt(1), big.NewInt(1), 30)
	require.ErrorIs(t, err, ErrInsufficientInput)

	_, err = AmountOut(big.NewInt(1), big.NewInt(0), big.NewInt(1), 30)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = AmountOut(huge, big.NewInt(1), big.NewInt(1), 30)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestChainRevertRestoresState(t *testing.T) {
	ctx := context.Background()
	c := NewChain(100)
	c.Mint(weth, alice, big.NewInt(50))

	snap := c.Snapshot()
	ok, err := c.Transfer(ctx, weth, alice, bob, big.NewInt(20))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = c.Approve(ctx, weth, alice, bob, big.NewInt(7))
	require.NoError(t, err)
	c.Store(venue, "slot", big.NewInt(9))

	inner := c.Snapshot()
	c.Mint(weth, bob, big.NewInt(1))
	c.Commit(inner)

	c.RevertToSnapshot(snap)
	require.Equal(t, int64(50), c.Balance(weth, alice).Int64())
	require.Equal(t, int64(0), c.Balance(weth, bob).Int64())
	allowance, _ := c.Allowance(ctx, weth, alice, bob)
	require.Zero(t, allowance.Sign())
	require.Zero(t, c.Load(venue, "slot").Sign())
}

func TestChainCommitKeepsState(t *testing.T) {
	ctx := context.Background()
	c := NewChain(100)
	c.Mint(weth, alice, big.NewInt(50))

	snap := c.Snapshot()
	ok, err := c.Transfer(ctx, weth, alice, bob, big.NewInt(20))
	require.NoError(t, err)
	require.True(t, ok)
	c.Commit(snap)

	require.Equal(t, int64(30), c.Balance(weth, alice).Int64())
	require.Equal(t, int64(20), c.Balance(weth, bob).Int64())
	require.Panics(t, func() { c.RevertToSnapshot(snap) })
}

func TestChainTransferRefusals(t *testing.T) {
	ctx := context.Background()
	c := NewChain(1)
	c.Mint(weth, alice, big.NewInt(5))

	ok, err := c.Transfer(ctx, weth, alice, bob, big.NewInt(6))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = c.Transfer(ctx, weth, alice, bob, big.NewInt(-1))
	require.ErrorIs(t, err, ErrNegativeAmount)

	ok, err = c.TransferFrom(ctx, weth, bob, alice, bob, big.NewInt(1))
	require.NoError(t, err)
	require.False(t, ok, "no allowance")
}

func newRouter(t *testing.T) (*Chain, *Router) {
	t.Helper()
	c := NewChain(1_000)
	r := NewRouter(c, "uni", venue, 30)
	r.AddPair(pairAB, weth, usdc, big.NewInt(10_000), big.NewInt(10_000))
	c.Mint(weth, alice, big.NewInt(1_000))
	_, err := c.Approve(context.Background(), weth, alice, venue, big.NewInt(1_000))
	require.NoError(t, err)
	return c, r
}

func TestRouterSwap(t *testing.T) {
	ctx := context.Background()
	c, r := newRouter(t)

	quoted, err := r.Quote(ctx, big.NewInt(1_000), []common.Address{weth, usdc})
	require.NoError(t, err)
	require.Equal(t, int64(906), quoted.Int64())

	amounts, err := r.Swap(ctx, alice, big.NewInt(1_000), quoted, []common.Address{weth, usdc}, alice, 1_000)
	require.NoError(t, err)
	require.Equal(t, int64(906), amounts[1].Int64())
	require.Equal(t, int64(906), c.Balance(usdc, alice).Int64())
	require.Zero(t, c.Balance(weth, alice).Sign())

	in, out, _, err := r.Reserves(weth, usdc)
	require.NoError(t, err)
	require.Equal(t, int64(11_000), in.Int64())
	require.Equal(t, int64(9_094), out.Int64())
}

func TestRouterSwapGuards(t *testing.T) {
	ctx := context.Background()
	_, r := newRouter(t)
	path := []common.Address{weth, usdc}

	_, err := r.Swap(ctx, alice, big.NewInt(1_000), big.NewInt(907), path, alice, 1_000)
	require.ErrorIs(t, err, ErrInsufficientOutput)
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)

	_, err = r.Swap(ctx, alice, big.NewInt(1_000), nil, path, alice, 999)
	require.ErrorIs(t, err, ErrExpired)

	_, err = r.Swap(ctx, bob, big.NewInt(10), nil, path, bob, 1_000)
	require.ErrorIs(t, err, ErrTransferFailed)

	_, err = r.Quote(ctx, big.NewInt(10), []common.Address{weth, bob})
	require.ErrorIs(t, err, ErrNoPair)
}

type testReceiver struct {
	chain   *Chain
	addr    common.Address
	approve bool
	reply   bool
	got     *big.Int
}

func (r *testReceiver) Address() common.Address { return r.addr }

func (r *testReceiver) OnLoanReceived(ctx context.Context, facility, asset common.Address, amount, premium *big.Int, _ common.Address, _ []byte) (bool, error) {
	r.got = r.chain.Balance(asset, r.addr)
	if r.approve {
		owed := new(big.Int).Add(amount, premium)
		if _, err := r.chain.Approve(ctx, asset, r.addr, facility, owed); err != nil {
			return false, err
		}
	}
	return r.reply, nil
}

func TestFlashPoolLoan(t *testing.T) {
	ctx := context.Background()
	c := NewChain(1)
	pool := NewFlashPool(c, "pool", flash, 9)
	pool.Fund(usdc, big.NewInt(1_000_000))
	c.Mint(usdc, alice, big.NewInt(900)) // covers the premium

	recv := &testReceiver{chain: c, addr: alice, approve: true, reply: true}
	require.NoError(t, pool.FlashLoan(ctx, alice, recv, usdc, big.NewInt(1_000_000), nil))
	require.Equal(t, int64(1_000_900), recv.got.Int64())
	require.Equal(t, int64(1_000_900), c.Balance(usdc, flash).Int64())
	require.Zero(t, c.Balance(usdc, alice).Sign())
}

func TestFlashPoolFailures(t *testing.T) {
	ctx := context.Background()
	c := NewChain(1)
	pool := NewFlashPool(c, "pool", flash, 9)
	pool.Fund(usdc, big.NewInt(1_000))

	err := pool.FlashLoan(ctx, alice, &testReceiver{chain: c, addr: alice}, usdc, big.NewInt(2_000), nil)
	require.ErrorIs(t, err, ErrLoanLiquidity)

	snap := c.Snapshot()
	err = pool.FlashLoan(ctx, alice, &testReceiver{chain: c, addr: alice}, usdc, big.NewInt(1_000), nil)
	require.ErrorIs(t, err, ErrCallbackRejected)
	c.RevertToSnapshot(snap)

	snap = c.Snapshot()
	err = pool.FlashLoan(ctx, alice, &testReceiver{chain: c, addr: alice, reply: true}, usdc, big.NewInt(1_000), nil)
	require.ErrorIs(t, err, ErrRepaymentFailed)
	c.RevertToSnapshot(snap)
	require.Equal(t, int64(1_000), c.Balance(usdc, flash).Int64())
}

func TestLendingPoolLiquidationCall(t *testing.T) {
	ctx := context.Background()
	env := NewEnv(1)
	pool := env.AddLendingPool("aave", venue, 500, 5_000)
	pool.SetPrice(usdc, WadOne)
	pool.SetPrice(weth, new(big.Int).Mul(WadOne, big.NewInt(2)))
	pool.OpenPosition(bob, weth, big.NewInt(1_000), usdc, big.NewInt(1_000), big.NewInt(9e17))

	env.Chain.Mint(usdc, alice, big.NewInt(1_000))
	_, err := env.Chain.Approve(ctx, usdc, alice, venue, big.NewInt(1_000))
	require.NoError(t, err)

	err = pool.LiquidationCall(ctx, alice, weth, usdc, bob, big.NewInt(501), false)
	require.ErrorIs(t, err, ErrCoverTooLarge)

	err = pool.LiquidationCall(ctx, alice, weth, usdc, bob, big.NewInt(400), true)
	require.ErrorIs(t, err, ErrCollateralTokenUnsup)

	require.NoError(t, pool.LiquidationCall(ctx, alice, weth, usdc, bob, big.NewInt(400), false))
	// 400 * 1 * 1.05 / 2 = 210
	require.Equal(t, int64(210), env.Chain.Balance(weth, alice).Int64())
	require.Equal(t, int64(600), pool.Debt(bob, usdc).Int64())
	require.Equal(t, int64(790), pool.Collateral(bob, weth).Int64())
}

func TestLendingPoolRejectsHealthyPosition(t *testing.T) {
	env := NewEnv(1)
	pool := env.AddLendingPool("aave", venue, 500, 5_000)
	pool.OpenPosition(bob, weth, big.NewInt(1), usdc, big.NewInt(1), WadOne)

	err := pool.LiquidationCall(context.Background(), alice, weth, usdc, bob, big.NewInt(1), false)
	require.ErrorIs(t, err, ErrPositionHealthy)
}

func TestIncentiveMarket(t *testing.T) {
	ctx := context.Background()
	env := NewEnv(1)
	incentive, _ := new(big.Int).SetString("1080000000000000000", 10)
	m := env.AddMarket("comp", venue, usdc, weth, incentive, 5_000)
	m.OpenPosition(bob, big.NewInt(10_000), big.NewInt(10_000), big.NewInt(1))

	env.Chain.Mint(usdc, alice, big.NewInt(5_000))
	_, err := env.Chain.Approve(ctx, usdc, alice, venue, big.NewInt(5_000))
	require.NoError(t, err)

	code, err := m.LiquidateBorrow(ctx, alice, bob, big.NewInt(1_000), flash)
	require.NoError(t, err)
	require.Equal(t, StatusMarketMismatch, code)

	code, err = m.LiquidateBorrow(ctx, alice, bob, big.NewInt(6_000), venue)
	require.NoError(t, err)
	require.Equal(t, StatusTooMuchRepay, code)

	code, err = m.LiquidateBorrow(ctx, alice, bob, big.NewInt(1_000), venue)
	require.NoError(t, err)
	require.Equal(t, StatusOK, code)
	require.Equal(t, int64(9_000), m.Debt(bob).Int64())

	code, err = m.Seize(ctx, alice, alice, bob, big.NewInt(1_081))
	require.NoError(t, err)
	require.Equal(t, StatusSeizeTooMuch, code)

	code, err = m.Seize(ctx, bob, alice, bob, big.NewInt(1_080))
	require.NoError(t, err)
	require.Equal(t, StatusLiquidatorMismatch, code)

	code, err = m.Seize(ctx, alice, alice, bob, big.NewInt(1_080))
	require.NoError(t, err)
	require.Equal(t, StatusOK, code)
	require.Equal(t, int64(1_080), env.Chain.Balance(weth, alice).Int64())
}

func TestFeedRounds(t *testing.T) {
	f := NewFeed("eth-usd", 8)
	f.SetPrice(big.NewInt(2_000_00000000), 50)
	f.SetPrice(big.NewInt(2_001_00000000), 60)

	round, err := f.LatestPrice(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), round.RoundID.Int64())
	require.Equal(t, int64(2), round.AnsweredInRound.Int64())
	require.Equal(t, uint64(60), round.UpdatedAt)
	require.Equal(t, uint8(8), round.Decimals)
}
