package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sniperbot/internal/metrics"
	"github.com/alanyoungcy/sniperbot/internal/server"
	"github.com/alanyoungcy/sniperbot/internal/server/handler"
	"github.com/alanyoungcy/sniperbot/internal/server/ws"
	"github.com/alanyoungcy/sniperbot/internal/worker"
)

// ServerMode serves the action protocol, the dashboard API and live events.
// Trades are executed by workers in other processes.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode runs the admission, monitor and sell loops, either over local
// storage or against a remote server.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode",
		slog.Bool("remote", a.cfg.RemoteWorker()),
	)

	g, ctx := errgroup.WithContext(ctx)
	if !a.cfg.RemoteWorker() {
		a.startBackground(ctx, g, deps)
	}
	a.startWorker(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the server and a worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps)
	a.startWorker(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startBackground runs the jobs owned by the process holding storage:
// notification delivery and the monthly archive.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier != nil {
		g.Go(func() error {
			return deps.Notifier.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		job := worker.NewArchiveJob(deps.Archiver, a.logger)
		schedule := a.cfg.Archive.Schedule
		a.logger.InfoContext(ctx, "archive: scheduled", slog.String("schedule", schedule))
		g.Go(func() error {
			return job.RunCron(ctx, schedule)
		})
	}
}

func (a *App) startWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	wc := a.cfg.Worker
	w := worker.New(worker.Config{
		Name:              wc.Name,
		AdmissionInterval: wc.AdmissionInterval.Duration,
		MonitorInterval:   wc.MonitorInterval.Duration,
		SellInterval:      wc.SellInterval.Duration,
		HeartbeatInterval: wc.HeartbeatInterval.Duration,
		Concurrency:       wc.Concurrency,
		AutoApprove:       wc.AutoApprove,
		AdmissionEnabled:  wc.AdmissionEnabled,
		SellEnabled:       wc.SellEnabled,
		SellClaimTTL:      wc.SellClaimTTL.Duration,
	}, deps.Protocol, deps.Prices, deps.Executor, a.logger, workerOpts(deps)...)

	g.Go(func() error {
		return w.Run(ctx)
	})

	// Journal entries outlive a failed report by at most one TTL.
	sweep := a.cfg.Execution.JournalTTL.Duration / 4
	if sweep < time.Second {
		sweep = time.Second
	}
	g.Go(func() error {
		return deps.Executor.Run(ctx, sweep)
	})
}

// workerOpts claims sell orders through redis when it is enabled.
func workerOpts(deps *Dependencies) []worker.Option {
	if deps.Locks == nil {
		return nil
	}
	return []worker.Option{worker.WithLocks(deps.Locks)}
}

// startHTTPServer builds the handlers, launches the WebSocket hub and the
// HTTP server, and shuts the server down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	core := deps.Core

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.cfg.Mode, a.cfg.Server.CORSOrigins, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Actions:   handler.NewActionHandler(core, a.logger),
		Trades:    handler.NewTradeHandler(core.Trades, a.logger),
		Positions: handler.NewPositionHandler(core.Positions, core.Sells, a.logger),
		Workers:   handler.NewWorkerHandler(core.Liveness, a.logger),
		Metrics:   metrics.Handler(deps.Registry),
	}

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		APIKey:      sc.APIKey,
		RateLimit:   sc.RateLimit,
		RateWindow:  sc.RateWindow.Duration,
	}, handlers, server.Deps{
		Hub:     hub,
		Limiter: deps.Limiter,
		Metrics: deps.Metrics,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
