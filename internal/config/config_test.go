package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

const (
	usdc = "0x00000000000000000000000000000000000000a1"
	weth = "0x00000000000000000000000000000000000000a2"
)

const sample = `
mode = "once"
log_level = "debug"

[operator]
address = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

[engine]
custody = "0x00000000000000000000000000000000000000c0"
strategies = ["arbitrage", "hft"]
request_ttl = "30s"

[[maneuvers]]
id = "arb-1"
strategy = "arbitrage"
asset = "0x00000000000000000000000000000000000000a1"
amount = "10_000_000_000"
cost = "1_000_000"
beneficiary = "0x00000000000000000000000000000000000000d1"

  [[maneuvers.route]]
  asset_in = "0x00000000000000000000000000000000000000a1"
  asset_out = "0x00000000000000000000000000000000000000a2"
  venue = "cheap"
  tolerance_pct = 1

  [[maneuvers.route]]
  asset_in = "0x00000000000000000000000000000000000000a2"
  asset_out = "0x00000000000000000000000000000000000000a1"
  venue = "dear"
  tolerance_pct = 1
  min_amount_out = "10_100_000_000"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "once", cfg.Mode)
	require.Equal(t, 30*time.Second, cfg.Engine.RequestTTL.Duration)
	require.Equal(t, uint64(120), cfg.Engine.DeadlineHorizon, "default kept")
	require.Equal(t, uint64(500), cfg.Liquidation.MarkupBps)
	require.Equal(t, []domain.StrategyTag{domain.StrategyArbitrage, domain.StrategyHighFrequency}, cfg.StrategyFilter())

	require.Len(t, cfg.Maneuvers, 1)
	m, err := cfg.Maneuvers[0].Maneuver()
	require.NoError(t, err)
	require.Equal(t, domain.StrategyArbitrage, m.Strategy)
	require.Equal(t, domain.FundingCustody, m.Funding)
	require.Equal(t, "10000000000", m.Amount.String())
	require.Equal(t, common.HexToAddress(usdc), m.Asset)
	require.Len(t, m.Params.Route, 2)
	require.Nil(t, m.Params.Route[0].MinAmountOut)
	require.Equal(t, "10100000000", m.Params.Route[1].MinAmountOut.String())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLASHBOT_MODE", "serve")
	t.Setenv("FLASHBOT_ENGINE_STRATEGIES", "sandwich, frontrun")
	t.Setenv("FLASHBOT_NOTIFY_ENABLED", "true")
	t.Setenv("FLASHBOT_NOTIFY_DISCORD_WEBHOOK", "https://discord.com/api/webhooks/1/abc")
	t.Setenv("FLASHBOT_ENGINE_REQUEST_TTL", "2m")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.Equal(t, "serve", cfg.Mode)
	require.Equal(t, []string{"sandwich", "frontrun"}, cfg.Engine.Strategies)
	require.True(t, cfg.Notify.Enabled)
	require.Equal(t, 2*time.Minute, cfg.Engine.RequestTTL.Duration)
	require.NoError(t, cfg.Validate())

	red := RedactedConfig(cfg)
	require.Equal(t, "***", red.Notify.DiscordWebhook)
	require.Equal(t, "https://discord.com/api/webhooks/1/abc", cfg.Notify.DiscordWebhook)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "paper"
	cfg.Engine.Strategies = []string{"scalp"}
	cfg.FlashLoan.Enabled = true
	cfg.FlashLoan.PremiumBps = 10_000
	cfg.Notify.Enabled = true
	cfg.Notify.DiscordWebhook = "http://insecure"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Notify.Events = []string{"failed"}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "paper"`,
		"operator: address",
		"engine: custody",
		"unknown strategy",
		"flashloan: address",
		"premium_bps must be < 10000",
		"discord_webhook must be an https URL",
		"telegram_chat_id is required",
		`unknown event "failed"`,
	} {
		require.Contains(t, err.Error(), want)
	}
}

func TestManeuverConversion(t *testing.T) {
	base := ManeuverConfig{
		Strategy:    "liquidation",
		Asset:       usdc,
		Amount:      "1500",
		Beneficiary: usdc,
		Liquidation: &LiquidationPlanConfig{
			Mechanics:        "incentive",
			Protocol:         "ctoken",
			Borrower:         weth,
			CollateralAsset:  usdc,
			DebtAsset:        usdc,
			DebtToCover:      "1500",
			CollateralMarket: weth,
		},
	}
	m, err := base.Maneuver()
	require.NoError(t, err)
	require.Equal(t, domain.LiquidationIncentive, m.Params.Liquidation.Mechanics)
	require.Equal(t, "1500", m.Params.Liquidation.Position.DebtToCover.String())
	require.Zero(t, m.Cost.Sign(), "missing cost parses as zero")

	hft := ManeuverConfig{
		Strategy:    "hft",
		Funding:     "flashloan",
		Asset:       usdc,
		Amount:      "1",
		Beneficiary: usdc,
		Trigger:     &TriggerConfig{Feed: "eth-usd", MinPrice: "100000000000"},
	}
	m, err = hft.Maneuver()
	require.NoError(t, err)
	require.Equal(t, domain.FundingFlashLoan, m.Funding)
	require.Equal(t, "100000000000", m.Params.Trigger.MinPrice.String())
	require.Nil(t, m.Params.Trigger.MaxPrice)

	bad := []func(*ManeuverConfig){
		func(c *ManeuverConfig) { c.Strategy = "scalp" },
		func(c *ManeuverConfig) { c.Funding = "credit" },
		func(c *ManeuverConfig) { c.Asset = "usdc" },
		func(c *ManeuverConfig) { c.Amount = "-5" },
		func(c *ManeuverConfig) { c.Liquidation = &LiquidationPlanConfig{Mechanics: "auction"} },
		func(c *ManeuverConfig) { c.Route = []LegConfig{{AssetIn: usdc, AssetOut: "weth"}} },
	}
	for i, mutate := range bad {
		c := base
		mutate(&c)
		_, err := c.Maneuver()
		require.Error(t, err, "case %d", i)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" 1_000_000 ")
	require.NoError(t, err)
	require.Equal(t, "1000000", v.String())

	v, err = ParseAmount("")
	require.NoError(t, err)
	require.Zero(t, v.Sign())

	_, err = ParseAmount("1e6")
	require.Error(t, err)
	_, err = ParseAmount("-1")
	require.True(t, strings.Contains(err.Error(), "negative"))
}
