package main

import (
	"context"
	"time"

	"github.com/vyrodovalexey/avapiclient/internal/admin"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
)

// shutdownTimeout bounds the graceful shutdown of the admin server.
const shutdownTimeout = 30 * time.Second

// serve runs the admin API and the configuration watcher until ctx is
// cancelled by a signal.
func serve(ctx context.Context, app *application, configPath string) error {
	logger := app.logger

	server := admin.New(app.config.Admin.Address, admin.Deps{
		Services: app.services,
		Bus:      app.bus,
		Mock:     app.mockSync,
		Metrics:  app.metrics,
		Health:   app.health,
	}, admin.WithLogger(logger))

	if err := server.Start(ctx); err != nil {
		return err
	}

	watcher := startConfigWatcher(ctx, newReloader(app), configPath)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
	}

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop admin server gracefully", observability.Error(err))
	}

	logger.Info("apiclient stopped")
	return nil
}
