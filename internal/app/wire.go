package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/flashbot/internal/blob/s3"
	"github.com/alanyoungcy/flashbot/internal/cache/redis"
	"github.com/alanyoungcy/flashbot/internal/config"
	"github.com/alanyoungcy/flashbot/internal/crypto"
	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/engine"
	"github.com/alanyoungcy/flashbot/internal/executor"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/metrics"
	"github.com/alanyoungcy/flashbot/internal/notify"
	"github.com/alanyoungcy/flashbot/internal/platform/evm"
	"github.com/alanyoungcy/flashbot/internal/server/handler"
	"github.com/alanyoungcy/flashbot/internal/sim"
	"github.com/alanyoungcy/flashbot/internal/store/postgres"
)

// EventChannel is the Pub/Sub channel execution events are published on.
const EventChannel = "flashbot:events"

// operatorLockTTL bounds how long one request may hold the custody lock.
const operatorLockTTL = 30 * time.Second

// Dependencies bundles everything the application modes need. It is built by
// Wire and torn down by the returned cleanup function. Optional backends are
// nil when disabled in config.
type Dependencies struct {
	Env      *sim.Env
	Engine   *engine.Engine
	Executor *executor.Executor
	Verifier *crypto.Verifier
	Signer   *crypto.Signer // nil without an operator key
	Assets   domain.AssetBook

	// Stores
	ExecutionStore domain.ExecutionStore
	AuditStore     domain.AuditStore

	// Caches
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Consumer    *redis.RequestConsumer

	// Blob storage
	Archiver *s3blob.Archiver

	Metrics *metrics.Metrics
	Checks  map[string]handler.Check

	recorder *fanout
}

// Recorded returns how many executions have reached the recorder.
func (d *Dependencies) Recorded() int64 {
	return d.recorder.Count()
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Assets: AssetBook(cfg),
		Checks: make(map[string]handler.Check),
	}
	custody := common.HexToAddress(cfg.Engine.Custody)
	operator := common.HexToAddress(cfg.Operator.Address)

	now := cfg.Chain.GenesisTime
	if now == 0 {
		now = uint64(time.Now().Unix())
	}

	// --- Simulated chain, seeded from config or forked from a live node ---
	if cfg.Mode == "fork" {
		client, closeClient, err := evm.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fail(fmt.Errorf("wire: rpc: %w", err))
		}
		closers = append(closers, closeClient)
		spec, err := ForkSpec(cfg, now)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		forker := evm.NewForker(client, logger)
		env, err := forker.Fork(ctx, spec)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		forker.CheckQuotes(ctx, env, big.NewInt(1_000_000))
		deps.Env = env
	} else {
		env, err := SeedEnv(cfg, now)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Env = env
	}

	// --- Guarded engine ---
	var facility domain.FlashLoanFacility
	if cfg.FlashLoan.Enabled {
		facility = deps.Env.Facility()
	}
	eng, err := engine.New(engine.Config{
		Custody:              custody,
		Operator:             operator,
		DeadlineHorizon:      cfg.Engine.DeadlineHorizon,
		LiquidationMarkupBps: cfg.Liquidation.MarkupBps,
		MaxPriceAge:          cfg.Engine.MaxPriceAge,
	}, deps.Env.Chain, deps.Env.Registry, facility, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}
	deps.Engine = eng

	// --- Operator identity ---
	deps.Verifier = crypto.NewVerifier(cfg.Chain.ChainID, custody)
	if cfg.Operator.PrivateKey != "" || cfg.Operator.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
			Operator:         operator,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: operator key: %w", err))
		}
		signer := crypto.NewSigner(key, cfg.Chain.ChainID, custody)
		deps.Signer = signer
	}

	rec := &fanout{logger: logger.With(slog.String("component", "recorder"))}
	deps.recorder = rec

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
			AppName:  "flashbot",
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		store := postgres.NewExecutionStore(pool)
		deps.ExecutionStore = store
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
		rec.store = store
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  "flashbot",
			Name:       "flashbot-" + custody.Hex()[2:10],
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		quotes := redis.NewQuoteCache(redisClient)
		bus := redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.QuoteCache = quotes
		limiter := redis.NewRateLimiter(redisClient)
		if cfg.Redis.StreamRate > 0 {
			limiter.SetWaitLimit(cfg.Redis.StreamRate, time.Second)
		}
		deps.RateLimiter = limiter
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = bus
		deps.Consumer = redis.NewRequestConsumer(bus, deps.Verifier.OpenJSON, cfg.Redis.RequestStream,
			fmt.Sprintf("%d-0", time.Now().UnixMilli()), 32)
		deps.Checks["redis"] = redisClient.Ping
		rec.publisher = redis.NewExecutionPublisher(bus, EventChannel, cfg.Redis.EventStream)

		if err := cacheMarketState(ctx, deps.Env, quotes); err != nil {
			logger.WarnContext(ctx, "wire: caching market state failed", slog.String("error", err.Error()))
		}
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			MaxAttempts:    5,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client, map[string]string{
			"custody":  custody.Hex(),
			"chain-id": strconv.FormatInt(cfg.Chain.ChainID, 10),
		}), s3blob.NewReader(s3Client), deps.AuditStore)
		deps.Checks["s3"] = s3Client.Health
		rec.buffer = &archiveBuffer{}
	}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New(deps.Assets, func() bool { return eng.State() == guard.InCall })
		rec.addSink(deps.Metrics)
	}

	// --- Alerts ---
	if cfg.Notify.Enabled {
		var senders []notify.Sender
		if cfg.Notify.DiscordWebhook != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook, cfg.Notify.Username))
		}
		if cfg.Notify.TelegramToken != "" {
			senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		}
		n := notify.NewNotifier(senders, cfg.Notify.Events, deps.Assets, logger)
		rec.addSink(n)
		closers = append(closers, n.Close)
	}

	// --- Executor ---
	exec := executor.NewExecutor(eng, cfg.Engine.QueueSize, cfg.StrategyFilter(), logger)
	exec.SetDedupTTL(max(cfg.Engine.RequestTTL.Duration, 2*time.Minute))
	exec.SetRecorder(rec)
	if deps.AuditStore != nil {
		exec.SetAudit(deps.AuditStore)
	}
	if deps.LockManager != nil {
		exec.SetLock(deps.LockManager, "operator:"+custody.Hex(), operatorLockTTL)
	}
	deps.Executor = exec

	return deps, cleanup, nil
}

// cacheMarketState writes the starting feed rounds and a unit quote per
// venue pair to the quote cache for the operator API.
func cacheMarketState(ctx context.Context, env *sim.Env, quotes domain.QuoteCache) error {
	for name, feed := range env.Feeds {
		round, err := feed.LatestPrice(ctx)
		if err != nil {
			return err
		}
		if err := quotes.SetRound(ctx, name, round); err != nil {
			return err
		}
	}
	probe := big.NewInt(1_000_000)
	now := time.Now()
	for name, r := range env.Routers {
		for _, p := range r.Pairs() {
			out, err := r.Quote(ctx, probe, []common.Address{p.Token0, p.Token1})
			if err != nil {
				continue
			}
			key := name + ":" + p.Token0.Hex() + ":" + p.Token1.Hex()
			if err := quotes.SetQuote(ctx, key, out, now); err != nil {
				return err
			}
		}
	}
	return nil
}
