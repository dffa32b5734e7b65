package guard

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/sim"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokenA   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	router   = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func TestMinAcceptable(t *testing.T) {
	cases := []struct {
		quoted string
		pct    uint64
		want   string
	}{
		{"1000", 0, "1000"},
		{"1000", 1, "990"},
		{"1000", 5, "950"},
		{"999", 1, "989"}, // 989.01 rounds down
		{"1000", 99, "10"},
		{"0", 5, "0"},
	}
	for _, tc := range cases {
		quoted, _ := new(big.Int).SetString(tc.quoted, 10)
		got, err := MinAcceptable(quoted, tc.pct)
		require.NoError(t, err)
		require.Equal(t, tc.want, got.String(), "quoted=%s pct=%d", tc.quoted, tc.pct)
	}
}

func TestMinAcceptableRejectsTolerance(t *testing.T) {
	for _, pct := range []uint64{100, 101, 1000} {
		_, err := MinAcceptable(big.NewInt(1000), pct)
		require.ErrorIs(t, err, domain.ErrInvalidTolerance)
		require.Equal(t, "slippage_guard", domain.ComponentOf(err))
	}
}

func TestBoundRaisesToFloor(t *testing.T) {
	got, err := Bound(big.NewInt(1000), 5, big.NewInt(970))
	require.NoError(t, err)
	require.Equal(t, int64(970), got.Int64())

	got, err = Bound(big.NewInt(1000), 5, big.NewInt(900))
	require.NoError(t, err)
	require.Equal(t, int64(950), got.Int64())

	got, err = Bound(big.NewInt(1000), 5, nil)
	require.NoError(t, err)
	require.Equal(t, int64(950), got.Int64())
}

func TestCheckProfit(t *testing.T) {
	res, err := CheckProfit(big.NewInt(1000), big.NewInt(1100), big.NewInt(40))
	require.NoError(t, err)
	require.Equal(t, int64(100), res.Profit.Int64())
	require.Equal(t, int64(40), res.Cost.Int64())
	require.Equal(t, int64(60), res.Payout.Int64())
}

func TestCheckProfitBreakEvenFails(t *testing.T) {
	_, err := CheckProfit(big.NewInt(1000), big.NewInt(1040), big.NewInt(40))
	require.ErrorIs(t, err, domain.ErrUnprofitable)

	_, err = CheckProfit(big.NewInt(1000), big.NewInt(1000), nil)
	require.ErrorIs(t, err, domain.ErrUnprofitable)

	_, err = CheckProfit(big.NewInt(1000), big.NewInt(900), nil)
	require.ErrorIs(t, err, domain.ErrUnprofitable)
}

func TestRequireProfitRejectsNegativeCost(t *testing.T) {
	_, err := RequireProfit(big.NewInt(10), big.NewInt(-1))
	require.ErrorIs(t, err, domain.ErrInvalidManeuver)
}

func TestGateAuthorizationBeforeReentrancy(t *testing.T) {
	g := NewGate(operator)
	require.Equal(t, Idle, g.State())

	release, err := g.Enter(operator)
	require.NoError(t, err)
	require.Equal(t, InCall, g.State())

	// A stranger is refused as unauthorized even while a call is in flight.
	_, err = g.Enter(stranger)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = g.Enter(operator)
	require.ErrorIs(t, err, domain.ErrReentrantCall)

	release()
	release()
	require.Equal(t, Idle, g.State())

	release, err = g.Enter(operator)
	require.NoError(t, err)
	release()
}

func TestGateWithoutOperatorRefusesEveryone(t *testing.T) {
	g := NewGate(common.Address{})
	_, err := g.Enter(common.Address{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Equal(t, "idle", g.State().String())
}

func TestAllowancesApproveExactAmount(t *testing.T) {
	ctx := context.Background()
	chain := sim.NewChain(1)
	a := NewAllowances(chain, operator)

	require.NoError(t, a.Ensure(ctx, tokenA, router, big.NewInt(500)))
	got, err := chain.Allowance(ctx, tokenA, operator, router)
	require.NoError(t, err)
	require.Equal(t, int64(500), got.Int64())

	// A smaller need is served from the cache.
	require.NoError(t, a.Ensure(ctx, tokenA, router, big.NewInt(200)))
	got, _ = chain.Allowance(ctx, tokenA, operator, router)
	require.Equal(t, int64(500), got.Int64())

	// The cache forgetting a grant does not lose one still on the ledger.
	a.Spent(tokenA, router, big.NewInt(500))
	require.NoError(t, a.Ensure(ctx, tokenA, router, big.NewInt(300)))
	got, _ = chain.Allowance(ctx, tokenA, operator, router)
	require.Equal(t, int64(500), got.Int64())

	// Once the spender has pulled the grant, only the new need is approved.
	chain.Mint(tokenA, operator, big.NewInt(500))
	ok, err := chain.TransferFrom(ctx, tokenA, router, operator, router, big.NewInt(500))
	require.NoError(t, err)
	require.True(t, ok)
	a.Spent(tokenA, router, big.NewInt(500))
	require.NoError(t, a.Ensure(ctx, tokenA, router, big.NewInt(300)))
	got, _ = chain.Allowance(ctx, tokenA, operator, router)
	require.Equal(t, int64(300), got.Int64())
}

type refusingLedger struct {
	domain.Ledger
	err error
}

func (l refusingLedger) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (l refusingLedger) Approve(context.Context, common.Address, common.Address, common.Address, *big.Int) (bool, error) {
	return false, l.err
}

func TestAllowancesApproveFailure(t *testing.T) {
	ctx := context.Background()

	err := NewAllowances(refusingLedger{}, operator).Ensure(ctx, tokenA, router, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrExternalCallFailed)

	boom := errors.New("boom")
	err = NewAllowances(refusingLedger{err: boom}, operator).Ensure(ctx, tokenA, router, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrExternalCallFailed)
	require.ErrorIs(t, err, boom)
	require.Equal(t, tokenA.Hex(), domain.ComponentOf(err))
}
