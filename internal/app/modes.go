package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldscope/internal/apy"
	"github.com/alanyoungcy/yieldscope/internal/server"
	"github.com/alanyoungcy/yieldscope/internal/server/handler"
	"github.com/alanyoungcy/yieldscope/internal/server/ws"
	"github.com/alanyoungcy/yieldscope/internal/service"
)

// buildServices constructs the calculation pipeline and the services on top
// of it. hub may be nil when no WebSocket hub is running.
func (a *App) buildServices(deps *Dependencies, hub service.Broadcaster) (*service.YieldService, *service.SnapshotService) {
	calc := apy.NewCalculator(apy.CalculatorConfig{
		FlatThreshold:  a.cfg.Engine.FlatThreshold,
		MinAccrualDays: a.cfg.Engine.MinAccrualDays,
		MaxAccrualDays: a.cfg.Engine.MaxAccrualDays,
		AccrualAPYCap:  a.cfg.Engine.AccrualAPYCap,
	})

	yields := service.NewYieldService(
		deps.SnapshotStore,
		deps.HistoryStore,
		deps.ResultCache,
		calc,
		apy.NewValidator(),
		service.YieldOptions{
			SnapshotTimeout: a.cfg.Engine.SnapshotTimeout.Duration,
			HistoryLimit:    a.cfg.Engine.HistoryLimit,
		},
		a.logger,
	)

	snapshots := service.NewSnapshotService(deps.SnapshotStore, yields, hub, a.logger)
	return yields, snapshots
}

// ServerMode runs the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs the periodic snapshot archival loop without the API.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires s3 to be enabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runArchiveLoop(ctx, deps)
	})
	return g.Wait()
}

// FullMode runs the API server plus the archival loop when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// startServer wires the handlers, WebSocket hub, and HTTP server onto the
// errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(a.cfg.Mode, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	yields, snapshots := a.buildServices(deps, hub)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Pingers, a.logger),
		Yields:    handler.NewYieldHandler(yields, a.logger),
		Snapshots: handler.NewSnapshotHandler(snapshots, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runArchiveLoop archives aged snapshots once at startup and then on every
// tick of the configured interval. Failures are reported through the
// notifier but do not stop the loop.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	a.archiveOnce(ctx, deps)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.archiveOnce(ctx, deps)
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	n, err := deps.Archiver.ArchiveSnapshots(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive run failed",
			slog.Time("cutoff", cutoff),
			slog.String("error", err.Error()),
		)
		if nerr := deps.Notifier.Notify(ctx, "archive_failed",
			"Snapshot archive failed",
			fmt.Sprintf("Archiving snapshots before %s failed: %v", cutoff.Format("2006-01-02"), err),
		); nerr != nil {
			a.logger.WarnContext(ctx, "archive failure notification not delivered",
				slog.String("error", nerr.Error()),
			)
		}
		return
	}

	a.logger.InfoContext(ctx, "archive run completed",
		slog.Time("cutoff", cutoff),
		slog.Int64("archived", n),
	)
	if n > 0 {
		if nerr := deps.Notifier.Notify(ctx, "archive_completed",
			"Snapshot archive completed",
			fmt.Sprintf("Archived %d snapshots dated before %s.", n, cutoff.Format("2006-01-02")),
		); nerr != nil {
			a.logger.WarnContext(ctx, "archive notification not delivered",
				slog.String("error", nerr.Error()),
			)
		}
	}
}
