package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/cadence/internal/scheduler"
	"github.com/desertthunder/cadence/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve runs the tick engine and sweeper, plus the status endpoint, until SIGINT or SIGTERM.
//
// In-flight executions are cancelled on shutdown and recorded as timed out.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}

	executor, err := r.openExecutor(db)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := scheduler.NewEngine(db, executor, r.config.Scheduler, r.logger)
	engine.Start(ctx)
	r.logger.Info("scheduler started",
		"instance_id", engine.InstanceID(),
		"tick_interval", r.config.Scheduler.TickInterval.Duration,
		"global_concurrency", r.config.Scheduler.GlobalConcurrency,
	)

	var httpServer *http.Server
	serverErrors := make(chan error, 1)

	if !cmd.Bool("no-http") {
		addr := cmd.String("addr")
		if addr == "" {
			addr = fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
		}

		router := server.NewBasicRouter()
		router.Use(server.LoggingMiddleware(r.logger))
		router.Handler(server.NewStatusHandler(engine))

		httpServer = &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			r.logger.Infof("serving status at http://%s/status", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutting down")
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}

	engine.Stop()
	stats := engine.Stats()
	r.logger.Info("scheduler stopped", "ticks", stats.Ticks, "dispatched", stats.Dispatched, "deferred", stats.Deferred)

	return runErr
}
