// Package config defines the top-level configuration for the flash bot and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLASHBOT_* environment variables.
type Config struct {
	Chain       ChainConfig       `toml:"chain"`
	Operator    OperatorConfig    `toml:"operator"`
	Engine      EngineConfig      `toml:"engine"`
	FlashLoan   FlashLoanConfig   `toml:"flashloan"`
	Liquidation LiquidationConfig `toml:"liquidation"`
	Assets      []AssetConfig     `toml:"assets"`
	Venues      []VenueConfig     `toml:"venues"`
	Feeds       []FeedConfig      `toml:"feeds"`
	Maneuvers   []ManeuverConfig  `toml:"maneuvers"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
	LogFile     LogFileConfig     `toml:"log_file"`
}

// ChainConfig holds the RPC endpoint used for forking and the simulated
// clock start.
type ChainConfig struct {
	RPCURL      string `toml:"rpc_url"`
	ChainID     int64  `toml:"chain_id"`
	GenesisTime uint64 `toml:"genesis_time"` // 0 means wall clock at startup
}

// OperatorConfig holds the operator identity and its signing key.
type OperatorConfig struct {
	Address          string `toml:"address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// EngineConfig holds the guarded core's limits.
type EngineConfig struct {
	Custody         string   `toml:"custody"`
	DeadlineHorizon uint64   `toml:"deadline_horizon"`
	MaxPriceAge     uint64   `toml:"max_price_age"`
	Strategies      []string `toml:"strategies"` // empty accepts every tag
	RequestTTL      duration `toml:"request_ttl"`
	QueueSize       int      `toml:"queue_size"`
}

// FlashLoanConfig describes the flash-loan facility.
type FlashLoanConfig struct {
	Enabled    bool              `toml:"enabled"`
	Name       string            `toml:"name"`
	Address    string            `toml:"address"`
	PremiumBps uint64            `toml:"premium_bps"`
	Liquidity  map[string]string `toml:"liquidity"` // asset -> base units
}

// LiquidationConfig holds estimator parameters and the lending protocols
// known to the bot.
type LiquidationConfig struct {
	MarkupBps uint64              `toml:"markup_bps"`
	Pools     []LendingPoolConfig `toml:"pools"`
	Markets   []MarketConfig      `toml:"markets"`
}

// LendingPoolConfig is a pool-style lending protocol.
type LendingPoolConfig struct {
	Name           string               `toml:"name"`
	Address        string               `toml:"address"`
	BonusBps       uint64               `toml:"bonus_bps"`
	CloseFactorBps uint64               `toml:"close_factor_bps"`
	Prices         map[string]string    `toml:"prices"` // asset -> 1e18-scaled price
	Positions      []PoolPositionConfig `toml:"positions"`
}

// PoolPositionConfig seeds one borrow in a pool-style protocol.
type PoolPositionConfig struct {
	Borrower        string `toml:"borrower"`
	CollateralAsset string `toml:"collateral_asset"`
	Collateral      string `toml:"collateral"`
	DebtAsset       string `toml:"debt_asset"`
	Debt            string `toml:"debt"`
	HealthFactor    string `toml:"health_factor"`
}

// MarketConfig is an incentive-style lending market.
type MarketConfig struct {
	Name            string                 `toml:"name"`
	Address         string                 `toml:"address"`
	Comptroller     string                 `toml:"comptroller"` // read when forking
	DebtAsset       string                 `toml:"debt_asset"`
	CollateralAsset string                 `toml:"collateral_asset"`
	Incentive       string                 `toml:"incentive"` // 1e18-scaled
	CloseFactorBps  uint64                 `toml:"close_factor_bps"`
	Positions       []MarketPositionConfig `toml:"positions"`
}

// MarketPositionConfig seeds one borrow in an incentive-style market.
type MarketPositionConfig struct {
	Borrower   string `toml:"borrower"`
	Collateral string `toml:"collateral"`
	Debt       string `toml:"debt"`
	Shortfall  string `toml:"shortfall"`
}

// AssetConfig names a token and seeds the custody balance.
type AssetConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals int32  `toml:"decimals"`
	Custody  string `toml:"custody"`
}

// VenueConfig is a constant-product router and its pairs.
type VenueConfig struct {
	Name    string       `toml:"name"`
	Address string       `toml:"address"`
	FeeBps  uint64       `toml:"fee_bps"`
	Pairs   []PairConfig `toml:"pairs"`
}

// PairConfig seeds one pair of a venue.
type PairConfig struct {
	Address  string `toml:"address"`
	TokenA   string `toml:"token_a"`
	TokenB   string `toml:"token_b"`
	ReserveA string `toml:"reserve_a"`
	ReserveB string `toml:"reserve_b"`
}

// FeedConfig maps an asset to its price feed.
type FeedConfig struct {
	Name     string `toml:"name"`
	Asset    string `toml:"asset"`
	Address  string `toml:"address"` // on-chain aggregator, read when forking
	Decimals uint8  `toml:"decimals"`
	Price    string `toml:"price"`
}

// LegConfig is one hop of a configured route.
type LegConfig struct {
	AssetIn      string `toml:"asset_in"`
	AssetOut     string `toml:"asset_out"`
	Venue        string `toml:"venue"`
	TolerancePct uint64 `toml:"tolerance_pct"`
	MinAmountOut string `toml:"min_amount_out"`
}

// TriggerConfig is a high-frequency price band.
type TriggerConfig struct {
	Feed     string `toml:"feed"`
	MinPrice string `toml:"min_price"`
	MaxPrice string `toml:"max_price"`
}

// LiquidationPlanConfig is the liquidation part of a maneuver record.
type LiquidationPlanConfig struct {
	Mechanics              string      `toml:"mechanics"`
	Protocol               string      `toml:"protocol"`
	Borrower               string      `toml:"borrower"`
	CollateralAsset        string      `toml:"collateral_asset"`
	DebtAsset              string      `toml:"debt_asset"`
	DebtToCover            string      `toml:"debt_to_cover"`
	CollateralMarket       string      `toml:"collateral_market"`
	ReceiveCollateralToken bool        `toml:"receive_collateral_token"`
	SwapBack               []LegConfig `toml:"swap_back"`
}

// ManeuverConfig is a maneuver record as written in the config file.
type ManeuverConfig struct {
	ID              string                 `toml:"id"`
	Strategy        string                 `toml:"strategy"`
	Funding         string                 `toml:"funding"`
	Asset           string                 `toml:"asset"`
	Amount          string                 `toml:"amount"`
	LoanFractionBps uint64                 `toml:"loan_fraction_bps"`
	Cost            string                 `toml:"cost"`
	Beneficiary     string                 `toml:"beneficiary"`
	Route           []LegConfig            `toml:"route"`
	Exit            []LegConfig            `toml:"exit"`
	FrontBps        uint64                 `toml:"front_bps"`
	Trigger         *TriggerConfig         `toml:"trigger"`
	Liquidation     *LiquidationPlanConfig `toml:"liquidation"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	RequestStream string `toml:"request_stream"`
	EventStream   string `toml:"event_stream"`
	StreamMaxLen  int64  `toml:"stream_max_len"` // approximate XADD MAXLEN
	StreamRate    int    `toml:"stream_rate"`    // stream requests per second per signer
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	ArchiveEvery   duration `toml:"archive_every"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	RateLimit      int      `toml:"rate_limit"` // requests per window per client
	RateLimitEvery duration `toml:"rate_limit_every"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// NotifyConfig routes execution alerts to a Discord webhook and/or a
// Telegram chat.
type NotifyConfig struct {
	Enabled        bool     `toml:"enabled"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Username       string   `toml:"username"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	Events         []string `toml:"events"` // execution statuses; empty means all
}

// LogFileConfig routes the JSON log stream to a rotating file.
type LogFileConfig struct {
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID: 1,
		},
		Engine: EngineConfig{
			DeadlineHorizon: 120,
			MaxPriceAge:     3600,
			RequestTTL:      duration{time.Minute},
			QueueSize:       64,
		},
		FlashLoan: FlashLoanConfig{
			Name:       "flashpool",
			PremiumBps: 9,
			Liquidity:  map[string]string{},
		},
		Liquidation: LiquidationConfig{
			MarkupBps: 500,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			DB:            0,
			PoolSize:      20,
			MaxRetries:    3,
			TLSEnabled:    false,
			RequestStream: "flashbot:requests",
			EventStream:   "flashbot:executions",
			StreamMaxLen:  10_000,
			StreamRate:    10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flashbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flashbot-executions",
			UseSSL:         false,
			ForcePathStyle: true,
			ArchiveEvery:   duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000"},
			RateLimit:      60,
			RateLimitEvery: duration{time.Minute},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Notify: NotifyConfig{
			Username: "flashbot",
			Events:   []string{"succeeded", "reverted"},
		},
		LogFile: LogFileConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"once":  true,
	"fork":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, once, fork)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Operator
	if !common.IsHexAddress(c.Operator.Address) {
		errs = append(errs, fmt.Sprintf("operator: address %q is not a hex address", c.Operator.Address))
	}
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}

	// Engine
	if !common.IsHexAddress(c.Engine.Custody) {
		errs = append(errs, fmt.Sprintf("engine: custody %q is not a hex address", c.Engine.Custody))
	}
	if c.Engine.DeadlineHorizon == 0 {
		errs = append(errs, "engine: deadline_horizon must be > 0")
	}
	for _, s := range c.Engine.Strategies {
		if _, err := domain.ParseStrategyTag(s); err != nil {
			errs = append(errs, "engine: "+err.Error())
		}
	}
	if c.Engine.QueueSize < 1 {
		errs = append(errs, "engine: queue_size must be >= 1")
	}

	// Chain
	if c.Mode == "fork" && c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url is required for fork mode")
	}

	// Flash loan
	if c.FlashLoan.Enabled {
		if !common.IsHexAddress(c.FlashLoan.Address) {
			errs = append(errs, fmt.Sprintf("flashloan: address %q is not a hex address", c.FlashLoan.Address))
		}
		if c.FlashLoan.PremiumBps >= 10_000 {
			errs = append(errs, "flashloan: premium_bps must be < 10000")
		}
		for asset, amount := range c.FlashLoan.Liquidity {
			errs = appendAddr(errs, "flashloan: liquidity asset", asset)
			errs = appendAmount(errs, "flashloan: liquidity "+asset, amount)
		}
	}

	// Assets, venues, feeds
	for i, a := range c.Assets {
		errs = appendAddr(errs, fmt.Sprintf("assets[%d]: address", i), a.Address)
		errs = appendAmount(errs, fmt.Sprintf("assets[%d]: custody", i), a.Custody)
	}
	venues := map[string]bool{}
	for i, v := range c.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: name must not be empty", i))
		}
		if venues[v.Name] {
			errs = append(errs, fmt.Sprintf("venues[%d]: duplicate name %q", i, v.Name))
		}
		venues[v.Name] = true
		errs = appendAddr(errs, fmt.Sprintf("venues[%d]: address", i), v.Address)
		for j, p := range v.Pairs {
			prefix := fmt.Sprintf("venues[%d].pairs[%d]", i, j)
			errs = appendAddr(errs, prefix+": address", p.Address)
			errs = appendAddr(errs, prefix+": token_a", p.TokenA)
			errs = appendAddr(errs, prefix+": token_b", p.TokenB)
			errs = appendAmount(errs, prefix+": reserve_a", p.ReserveA)
			errs = appendAmount(errs, prefix+": reserve_b", p.ReserveB)
		}
	}
	for i, f := range c.Feeds {
		if f.Name == "" {
			errs = append(errs, fmt.Sprintf("feeds[%d]: name must not be empty", i))
		}
		errs = appendAddr(errs, fmt.Sprintf("feeds[%d]: asset", i), f.Asset)
		errs = appendAmount(errs, fmt.Sprintf("feeds[%d]: price", i), f.Price)
	}

	// Lending protocols
	for i, p := range c.Liquidation.Pools {
		prefix := fmt.Sprintf("liquidation.pools[%d]", i)
		errs = appendAddr(errs, prefix+": address", p.Address)
		if p.CloseFactorBps > 10_000 {
			errs = append(errs, prefix+": close_factor_bps must be <= 10000")
		}
		for asset, price := range p.Prices {
			errs = appendAddr(errs, prefix+": price asset", asset)
			errs = appendAmount(errs, prefix+": price "+asset, price)
		}
		for j, pos := range p.Positions {
			pp := fmt.Sprintf("%s.positions[%d]", prefix, j)
			errs = appendAddr(errs, pp+": borrower", pos.Borrower)
			errs = appendAddr(errs, pp+": collateral_asset", pos.CollateralAsset)
			errs = appendAddr(errs, pp+": debt_asset", pos.DebtAsset)
			errs = appendAmount(errs, pp+": collateral", pos.Collateral)
			errs = appendAmount(errs, pp+": debt", pos.Debt)
			errs = appendAmount(errs, pp+": health_factor", pos.HealthFactor)
		}
	}
	for i, m := range c.Liquidation.Markets {
		prefix := fmt.Sprintf("liquidation.markets[%d]", i)
		errs = appendAddr(errs, prefix+": address", m.Address)
		errs = appendAddr(errs, prefix+": debt_asset", m.DebtAsset)
		errs = appendAddr(errs, prefix+": collateral_asset", m.CollateralAsset)
		errs = appendAmount(errs, prefix+": incentive", m.Incentive)
		if c.Mode == "fork" {
			errs = appendAddr(errs, prefix+": comptroller", m.Comptroller)
		}
		for j, pos := range m.Positions {
			pp := fmt.Sprintf("%s.positions[%d]", prefix, j)
			errs = appendAddr(errs, pp+": borrower", pos.Borrower)
			errs = appendAmount(errs, pp+": collateral", pos.Collateral)
			errs = appendAmount(errs, pp+": debt", pos.Debt)
			errs = appendAmount(errs, pp+": shortfall", pos.Shortfall)
		}
	}

	// Maneuvers
	for i, m := range c.Maneuvers {
		if _, err := m.Maneuver(); err != nil {
			errs = append(errs, fmt.Sprintf("maneuvers[%d]: %v", i, err))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Notify.Enabled {
		if c.Notify.DiscordWebhook == "" && c.Notify.TelegramToken == "" {
			errs = append(errs, "notify: discord_webhook or telegram_token is required")
		}
		if c.Notify.DiscordWebhook != "" && !strings.HasPrefix(c.Notify.DiscordWebhook, "https://") {
			errs = append(errs, "notify: discord_webhook must be an https URL")
		}
		if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
			errs = append(errs, "notify: telegram_chat_id is required with telegram_token")
		}
		for _, e := range c.Notify.Events {
			switch domain.ExecStatus(e) {
			case domain.ExecSucceeded, domain.ExecReverted, domain.ExecRejected:
			default:
				errs = append(errs, fmt.Sprintf("notify: unknown event %q (valid: succeeded, reverted, rejected)", e))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// StrategyFilter returns the accepted strategy tags. A nil result accepts all.
func (c *Config) StrategyFilter() []domain.StrategyTag {
	if len(c.Engine.Strategies) == 0 {
		return nil
	}
	tags := make([]domain.StrategyTag, 0, len(c.Engine.Strategies))
	for _, s := range c.Engine.Strategies {
		if t, err := domain.ParseStrategyTag(s); err == nil {
			tags = append(tags, t)
		}
	}
	return tags
}

func appendAddr(errs []string, field, v string) []string {
	if !common.IsHexAddress(v) {
		return append(errs, fmt.Sprintf("%s %q is not a hex address", field, v))
	}
	return errs
}

func appendAmount(errs []string, field, v string) []string {
	if v == "" {
		return errs
	}
	if _, err := ParseAmount(v); err != nil {
		return append(errs, fmt.Sprintf("%s: %v", field, err))
	}
	return errs
}

// ParseAmount parses a non-negative base-unit integer. Underscores are
// accepted as digit separators.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}
