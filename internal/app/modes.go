package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/server"
	"github.com/alanyoungcy/memebattle/internal/server/handler"
	"github.com/alanyoungcy/memebattle/internal/server/ws"
)

const shutdownTimeout = 15 * time.Second

// APIMode serves the HTTP and WebSocket API. Payments are still confirmed
// inline by the payment endpoints; no background jobs run.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.runAPI(ctx, g, deps, nil)
	return g.Wait()
}

// WorkerMode runs the background jobs: the payment watcher, the cron
// sweeper and the event notifier.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.runWorkers(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and every background job in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	workers := a.runWorkers(ctx, g, deps)
	a.runAPI(ctx, g, deps, workers)
	return g.Wait()
}

// runWorkers starts the background jobs on g and returns their names.
func (a *App) runWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) []string {
	workers := []string{"payment_watcher", "sweeper"}

	g.Go(func() error {
		return deps.Tracker.Run(ctx)
	})
	g.Go(func() error {
		return deps.Sweeper.Run(ctx)
	})
	if deps.Notifier.Enabled() {
		workers = append(workers, "notifier")
		g.Go(func() error {
			return deps.Notifier.Run(ctx, deps.EventBus,
				domain.ChannelBattles, domain.ChannelPayments, domain.ChannelRefunds)
		})
	}
	if deps.Archiver != nil {
		workers = append(workers, "archiver")
	}

	a.logger.InfoContext(ctx, "background workers started", slog.Any("workers", workers))
	return workers
}

// runAPI starts the WebSocket hub and the HTTP server on g. The server is
// shut down gracefully once ctx is cancelled.
func (a *App) runAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies, workers []string) {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server disabled; api not started")
		return
	}

	hub := ws.NewHub(deps.EventBus, ws.Config{
		Mode:           a.cfg.Mode,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		AdminKey:      a.cfg.Server.AdminKey,
		APIRateLimit:  a.cfg.Server.APIRateLimit,
		APIRateWindow: a.cfg.Server.APIRateWindow.Duration,
	}, a.buildHandlers(deps, workers), hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) buildHandlers(deps *Dependencies, workers []string) server.Handlers {
	checks := map[string]handler.Pinger{"redis": deps.Redis}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres
	}
	if deps.S3 != nil {
		checks["s3"] = handler.PingerFunc(deps.S3.Health)
	}

	admin := handler.AdminDeps{
		Refunds: deps.Refunds,
		Sweeper: deps.Sweeper,
		Battles: deps.Battle,
		Audit:   deps.AuditStore,
	}
	// Assigned only when set so the interfaces stay nil otherwise.
	if deps.Archive != nil && deps.Blobs != nil {
		admin.Archive = deps.Archive
		admin.Blobs = deps.Blobs
	}

	return server.Handlers{
		Health:   handler.NewHealthHandler(checks, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, workers, a.startedAt),
		Battles:  handler.NewBattleHandler(deps.Battle, a.logger),
		Payments: handler.NewPaymentHandler(deps.Tracker, a.cfg.Gateway.WebhookSecret, a.logger),
		Fees:     handler.NewFeeHandler(deps.Fees, a.logger),
		Admin:    handler.NewAdminHandler(admin, a.logger),
		Metrics:  deps.MetricsHandler,
	}
}

// ignoreCanceled maps a clean shutdown to a nil error.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
