package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/feed"
	"github.com/alanyoungcy/flashbot/internal/server"
	"github.com/alanyoungcy/flashbot/internal/server/handler"
	"github.com/alanyoungcy/flashbot/internal/server/ws"
)

// requestPollInterval is how often the operator request stream is read.
const requestPollInterval = 250 * time.Millisecond

// ServeMode runs the executor behind the HTTP API and the WebSocket hub,
// consumes the Redis request stream and price channel, and archives to S3
// periodically until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channels: []string{EventChannel},
		Status:   a.Status,
	})
	if deps.SignalBus == nil {
		// Without Redis the hub is fed in-process.
		deps.recorder.addSink(hub)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Executor.Run(ctx)
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, hub)
	}

	if deps.Consumer != nil {
		g.Go(func() error {
			return a.pollRequests(ctx, deps)
		})
	}

	if deps.SignalBus != nil {
		feeder := feed.NewPriceFeeder(deps.SignalBus, deps.Env, deps.QuoteCache, a.logger)
		g.Go(func() error {
			return feeder.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// OnceMode runs every configured maneuver record through the executor in
// order, then returns. Fork mode is the same run against forked state.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "running configured maneuvers",
		slog.String("mode", a.cfg.Mode),
		slog.Int("count", len(a.cfg.Maneuvers)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- deps.Executor.Run(runCtx) }()

	var succeeded, failed int
	for i, mc := range a.cfg.Maneuvers {
		m, err := mc.Maneuver()
		if err != nil {
			return fmt.Errorf("app: maneuvers[%d]: %w", i, err)
		}
		req, err := a.operatorRequest(deps, domain.Request{
			ID:       m.ID,
			Source:   "config",
			Op:       domain.OpExecute,
			Maneuver: &m,
		})
		if err != nil {
			return fmt.Errorf("app: maneuvers[%d]: %w", i, err)
		}

		res, err := deps.Executor.Do(ctx, req)
		if err == nil {
			err = res.Err
		}
		exec := res.Execution
		if err != nil {
			failed++
			a.logger.WarnContext(ctx, "maneuver failed",
				slog.String("id", m.ID),
				slog.String("strategy", m.Strategy.String()),
				slog.String("kind", domain.KindOf(err)),
				slog.String("component", domain.ComponentOf(err)),
				slog.String("error", err.Error()),
			)
			continue
		}
		succeeded++
		a.logger.InfoContext(ctx, "maneuver committed",
			slog.String("id", m.ID),
			slog.String("strategy", m.Strategy.String()),
			slog.String("profit", deps.Assets.Format(exec.Asset, exec.Profit)),
			slog.String("payout", deps.Assets.Format(exec.Asset, exec.Payout)),
			slog.String("symbol", deps.Assets.Symbol(exec.Asset)),
		)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.flushArchive(context.WithoutCancel(ctx), deps)

	a.logger.InfoContext(ctx, "maneuvers done",
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
	)
	return nil
}

// operatorRequest attributes a locally configured request to the operator.
// With a key loaded the request is sealed and reopened, so it takes the same
// signature path as API and stream traffic.
func (a *App) operatorRequest(deps *Dependencies, req domain.Request) (domain.Request, error) {
	if deps.Signer == nil {
		req.Caller = deps.Engine.Operator()
		return req, nil
	}
	env, err := deps.Signer.Seal(req, time.Now().Add(a.cfg.Engine.RequestTTL.Duration))
	if err != nil {
		return domain.Request{}, err
	}
	opened, err := deps.Verifier.Open(env)
	if err != nil {
		return domain.Request{}, err
	}
	opened.Source = req.Source
	return opened, nil
}

// pollRequests forwards signed requests from the Redis stream to the executor.
func (a *App) pollRequests(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(requestPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		reqs, bad, err := deps.Consumer.Poll(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "request stream read failed", slog.String("error", err.Error()))
			continue
		}
		for _, id := range bad {
			a.logger.WarnContext(ctx, "dropping unverifiable stream request", slog.String("entry", id))
		}
		for _, req := range reqs {
			if deps.RateLimiter != nil {
				if err := deps.RateLimiter.Wait(ctx, "stream:"+req.Caller.Hex()); err != nil {
					return err
				}
			}
			if err := deps.Executor.Submit(ctx, req); err != nil {
				a.logger.WarnContext(ctx, "submit stream request failed",
					slog.String("request_id", req.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archiveLoop ships buffered executions to S3 on every tick and once more on
// shutdown.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	every := a.cfg.S3.ArchiveEvery.Duration
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.flushArchive(context.WithoutCancel(ctx), deps)
			return ctx.Err()
		case <-ticker.C:
			a.flushArchive(ctx, deps)
		}
	}
}

func (a *App) flushArchive(ctx context.Context, deps *Dependencies) {
	if deps.Archiver == nil || deps.recorder.buffer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	path, n, err := deps.recorder.buffer.flush(ctx, deps.Archiver)
	if err != nil {
		a.logger.WarnContext(ctx, "archive failed", slog.String("error", err.Error()))
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "archived executions", slog.String("path", path), slog.Int("count", n))
	}
}

// startHTTPServer adds the HTTP server and its graceful shutdown to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(a.Status),
		Maneuvers: handler.NewManeuverHandler(deps.Verifier, deps.Executor, deps.Assets, a.logger),
	}
	if deps.ExecutionStore != nil {
		handlers.Executions = handler.NewExecutionHandler(deps.ExecutionStore, deps.Assets, a.logger)
	}
	if deps.Archiver != nil || deps.AuditStore != nil {
		var browser handler.ArchiveBrowser
		if deps.Archiver != nil {
			browser = deps.Archiver
		}
		handlers.Archive = handler.NewArchiveHandler(browser, deps.AuditStore, a.logger)
	}
	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RateLimit:      a.cfg.Server.RateLimit,
		RateLimitEvery: a.cfg.Server.RateLimitEvery.Duration,
		MetricsPath:    a.cfg.Metrics.Path,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
