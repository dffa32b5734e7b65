package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Operator
	redact(&out.Operator.PrivateKey)
	redact(&out.Operator.KeyPassword)

	// Chain RPC URLs often embed a provider key.
	redact(&out.Chain.RPCURL)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Webhook URLs carry their token.
	redact(&out.Notify.DiscordWebhook)
	redact(&out.Notify.TelegramToken)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Engine.Strategies != nil {
		out.Engine.Strategies = make([]string, len(cfg.Engine.Strategies))
		copy(out.Engine.Strategies, cfg.Engine.Strategies)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.FlashLoan.Liquidity != nil {
		out.FlashLoan.Liquidity = make(map[string]string, len(cfg.FlashLoan.Liquidity))
		for k, v := range cfg.FlashLoan.Liquidity {
			out.FlashLoan.Liquidity[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
