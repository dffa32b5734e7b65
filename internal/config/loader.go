package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLASHBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLASHBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FLASHBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "FLASHBOT_CHAIN_CHAIN_ID")
	setUint64(&cfg.Chain.GenesisTime, "FLASHBOT_CHAIN_GENESIS_TIME")

	// ── Operator ──
	setStr(&cfg.Operator.Address, "FLASHBOT_OPERATOR_ADDRESS")
	setStr(&cfg.Operator.PrivateKey, "FLASHBOT_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "FLASHBOT_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "FLASHBOT_OPERATOR_KEY_PASSWORD")

	// ── Engine ──
	setStr(&cfg.Engine.Custody, "FLASHBOT_ENGINE_CUSTODY")
	setUint64(&cfg.Engine.DeadlineHorizon, "FLASHBOT_ENGINE_DEADLINE_HORIZON")
	setUint64(&cfg.Engine.MaxPriceAge, "FLASHBOT_ENGINE_MAX_PRICE_AGE")
	setStringSlice(&cfg.Engine.Strategies, "FLASHBOT_ENGINE_STRATEGIES")
	setDuration(&cfg.Engine.RequestTTL, "FLASHBOT_ENGINE_REQUEST_TTL")
	setInt(&cfg.Engine.QueueSize, "FLASHBOT_ENGINE_QUEUE_SIZE")

	// ── Flash loan ──
	setBool(&cfg.FlashLoan.Enabled, "FLASHBOT_FLASHLOAN_ENABLED")
	setStr(&cfg.FlashLoan.Address, "FLASHBOT_FLASHLOAN_ADDRESS")
	setUint64(&cfg.FlashLoan.PremiumBps, "FLASHBOT_FLASHLOAN_PREMIUM_BPS")

	// ── Liquidation ──
	setUint64(&cfg.Liquidation.MarkupBps, "FLASHBOT_LIQUIDATION_MARKUP_BPS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FLASHBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FLASHBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FLASHBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLASHBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLASHBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLASHBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLASHBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLASHBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLASHBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLASHBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLASHBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FLASHBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FLASHBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLASHBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLASHBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLASHBOT_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "FLASHBOT_REDIS_STREAM_MAX_LEN")
	setInt(&cfg.Redis.StreamRate, "FLASHBOT_REDIS_STREAM_RATE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FLASHBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FLASHBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLASHBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLASHBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLASHBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLASHBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FLASHBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FLASHBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FLASHBOT_SERVER_RATE_LIMIT")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "FLASHBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "FLASHBOT_METRICS_PATH")

	// ── Notify ──
	setBool(&cfg.Notify.Enabled, "FLASHBOT_NOTIFY_ENABLED")
	setStr(&cfg.Notify.DiscordWebhook, "FLASHBOT_NOTIFY_DISCORD_WEBHOOK")
	setStr(&cfg.Notify.TelegramToken, "FLASHBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLASHBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "FLASHBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLASHBOT_MODE")
	setStr(&cfg.LogLevel, "FLASHBOT_LOG_LEVEL")
	setStr(&cfg.LogFile.Path, "FLASHBOT_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
