package main

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"spendlog/internal/amqp"
	"spendlog/internal/backend"
	"spendlog/internal/cli"
	"spendlog/internal/config"
	"spendlog/internal/controller"
	apphttp "spendlog/internal/http"
	"spendlog/internal/log"
	"spendlog/internal/view"
)

const activityRetention = 30 * 24 * time.Hour

func main() {
	cli.LoadEnvFile()

	// Bootstrap logger until LOG_LEVEL is known.
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"))
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	res, err := backend.NewFactory(logger).Create(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.StoreBackend)
		os.Exit(1)
	}

	if cfg.AMQPEnabled() && res.Bus == nil {
		logger.Warn("Change notifications configured but unavailable; other instances will not be heard")
	}

	hub := view.NewHub(logger)
	publisher := view.NewPublisher(hub, logger)

	opts := controller.Options{
		Budgets:           res.Local,
		Journal:           res.Local,
		Logger:            logger,
		DeleteConcurrency: cfg.DeleteConcurrency,
	}
	if res.Bus != nil {
		opts.Notifier = res.Bus
	}
	ctrl := controller.New(res.Store, publisher, opts)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ctrl.RestoreBudget(startupCtx); err != nil {
		logger.Warn("Could not restore budget", log.FieldError, err)
	}
	if err := ctrl.Load(startupCtx); err != nil {
		// The page shows the load error; /reload or the schedule retries.
		logger.Warn("Initial load failed", log.FieldOperation, log.OpStartup, log.FieldError, err)
	}
	cancelStartup()

	scheduler := newScheduler(cfg, ctrl, res, logger)

	srv := apphttp.NewServer(":"+cfg.Port, ctrl, publisher, hub, logger).WithActivity(res.Local)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		<-scheduler.Stop().Done()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if res.Bus != nil {
		g.Go(func() error {
			err := res.Bus.Run(gctx, func(ctx context.Context, msg *amqp.ChangeMessage) error {
				logger.InfoContext(ctx, "Remote change received, reloading",
					"type", msg.Type, log.FieldExpenseID, msg.ID, log.FieldOrigin, msg.Origin)
				return ctrl.Load(ctx)
			})
			if err != nil {
				// Local edits keep working; other instances are just not heard.
				logger.Error("Change consumer stopped", log.FieldOperation, log.OpConsume, log.FieldError, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("Starting spendlog server",
			"port", cfg.Port,
			"backend", cfg.StoreBackend,
			"notifications", res.Bus != nil,
			"reload_schedule", cfg.ReloadSchedule,
		)
		return srv.ListenAndServe()
	})
	scheduler.Start()

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// newScheduler registers the periodic reload and the journal cleanup.
// RELOAD_SCHEDULE has already been validated.
func newScheduler(cfg *config.Config, ctrl *controller.Controller, res *backend.Result, logger *log.Logger) *cron.Cron {
	logger = logger.WithComponent(log.ComponentScheduler)
	c := cron.New()

	if cfg.ReloadSchedule != "" {
		_, err := c.AddFunc(cfg.ReloadSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := ctrl.Load(ctx); err != nil {
				logger.Warn("Scheduled reload failed", log.FieldOperation, log.OpLoad, log.FieldError, err)
			}
		})
		if err != nil {
			logger.Error("Invalid reload schedule", log.FieldError, err, "schedule", cfg.ReloadSchedule)
		}
	}

	if _, err := c.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := res.Local.PruneActivity(ctx, time.Now().Add(-activityRetention))
		if err != nil {
			logger.Warn("Activity cleanup failed", log.FieldError, err)
			return
		}
		logger.Debug("Activity cleaned up", log.FieldCount, n)
	}); err != nil {
		logger.Error("Failed to schedule activity cleanup", log.FieldError, err)
	}
	return c
}
