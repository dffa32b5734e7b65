package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/config"
	"github.com/alanyoungcy/flashbot/internal/domain"
)

const (
	usdc    = "0x00000000000000000000000000000000000000a1"
	weth    = "0x00000000000000000000000000000000000000a2"
	custody = "0x00000000000000000000000000000000000000c0"
	flash   = "0x00000000000000000000000000000000000000b0"
)

func seededConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Engine.Custody = custody
	cfg.Assets = []config.AssetConfig{
		{Symbol: "USDC", Address: usdc, Decimals: 6, Custody: "10_000_000_000"},
		{Symbol: "WETH", Address: weth, Decimals: 18},
	}
	cfg.Venues = []config.VenueConfig{{
		Name: "uni", Address: "0x00000000000000000000000000000000000000f1", FeeBps: 30,
		Pairs: []config.PairConfig{{
			Address: "0x00000000000000000000000000000000000000e1",
			TokenA:  usdc, TokenB: weth,
			ReserveA: "1_000_000_000_000", ReserveB: "1_000_000_000_000_000_000_000",
		}},
	}}
	cfg.Feeds = []config.FeedConfig{{Name: "eth-usd", Asset: weth, Decimals: 8, Price: "200000000000"}}
	cfg.FlashLoan.Enabled = true
	cfg.FlashLoan.Address = flash
	cfg.FlashLoan.Liquidity = map[string]string{usdc: "5_000_000_000_000"}
	cfg.Liquidation.Markets = []config.MarketConfig{{
		Name: "ctoken", Address: "0x00000000000000000000000000000000000000b2",
		DebtAsset: usdc, CollateralAsset: usdc, Incentive: "1080000000000000000", CloseFactorBps: 5_000,
		Positions: []config.MarketPositionConfig{{
			Borrower: "0x00000000000000000000000000000000000000b1", Collateral: "5000", Debt: "3000", Shortfall: "1",
		}},
	}}
	return &cfg
}

func TestSeedEnv(t *testing.T) {
	env, err := SeedEnv(seededConfig(), 1_000)
	require.NoError(t, err)

	require.Equal(t, "10000000000", env.Chain.Balance(common.HexToAddress(usdc), common.HexToAddress(custody)).String())
	require.Contains(t, env.Routers, "uni")
	require.NotNil(t, env.Facility())
	require.Equal(t, "5000000000000", env.Chain.Balance(common.HexToAddress(usdc), common.HexToAddress(flash)).String())

	round, err := env.Feeds["eth-usd"].LatestPrice(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), round.UpdatedAt)

	feed, ok := env.Registry.FeedFor(common.HexToAddress(weth))
	require.True(t, ok)
	require.Equal(t, "eth-usd", feed.Name())
	require.Equal(t, "3000", env.Markets["ctoken"].Debt(common.HexToAddress("0x00000000000000000000000000000000000000b1")).String())
}

func TestSeedEnvReportsBadAmount(t *testing.T) {
	cfg := seededConfig()
	cfg.Venues[0].Pairs[0].ReserveA = "lots"
	_, err := SeedEnv(cfg, 1_000)
	require.ErrorContains(t, err, "uni reserve_a")
}

func TestForkSpec(t *testing.T) {
	spec, err := ForkSpec(seededConfig(), 7)
	require.NoError(t, err)
	require.Equal(t, uint64(7), spec.Now)
	require.Len(t, spec.Assets, 2)
	require.Len(t, spec.Venues[0].Pairs, 1)
	require.Equal(t, []common.Address{common.HexToAddress(usdc)}, spec.FlashPool.Assets)
	require.Len(t, spec.Markets[0].Positions, 1)
}

func TestAssetBook(t *testing.T) {
	book := AssetBook(seededConfig())
	require.Equal(t, "1.5", book.Format(common.HexToAddress(usdc), big.NewInt(1_500_000)))
	require.Equal(t, "WETH", book.Symbol(common.HexToAddress(weth)))
}

type flakyArchiver struct {
	fail    bool
	batches [][]domain.Execution
}

func (f *flakyArchiver) Archive(_ context.Context, execs []domain.Execution) (string, error) {
	if f.fail {
		return "", errors.New("bucket unavailable")
	}
	f.batches = append(f.batches, execs)
	return "archive/executions/x.jsonl", nil
}

func TestArchiveBufferRequeuesOnFailure(t *testing.T) {
	var buf archiveBuffer
	arch := &flakyArchiver{fail: true}
	buf.add(domain.Execution{ID: "a"})
	buf.add(domain.Execution{ID: "b"})

	_, n, err := buf.flush(context.Background(), arch)
	require.Error(t, err)
	require.Zero(t, n)

	buf.add(domain.Execution{ID: "c"})
	arch.fail = false
	path, n, err := buf.flush(context.Background(), arch)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NotEmpty(t, path)
	require.Equal(t, "a", arch.batches[0][0].ID)
	require.Equal(t, "c", arch.batches[0][2].ID)

	path, n, err = buf.flush(context.Background(), arch)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, path)
}

type countingSink struct{ n int }

func (c *countingSink) RecordExecution(context.Context, domain.Execution) { c.n++ }

func TestFanoutDeliversToSinks(t *testing.T) {
	sink := &countingSink{}
	f := &fanout{buffer: &archiveBuffer{}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	f.addSink(sink)

	f.RecordExecution(context.Background(), domain.Execution{ID: "a"})
	f.RecordExecution(context.Background(), domain.Execution{ID: "b"})
	require.Equal(t, int64(2), f.Count())
	require.Equal(t, 2, sink.n)
	require.Len(t, f.buffer.execs, 2)
}
