package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/iliyamo/temple-portals/internal/approval"
	"github.com/iliyamo/temple-portals/internal/changefeed"
	"github.com/iliyamo/temple-portals/internal/config"
	"github.com/iliyamo/temple-portals/internal/handler"
	"github.com/iliyamo/temple-portals/internal/middleware"
	"github.com/iliyamo/temple-portals/internal/notify"
	"github.com/iliyamo/temple-portals/internal/repository"
	"github.com/iliyamo/temple-portals/internal/router"
	"github.com/iliyamo/temple-portals/internal/syncengine"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and one sync session per portal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd.Context())
		},
	}
}

func serveRun(parent context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	feed := changefeed.NewClient(b.store, logger, changefeed.WithSetupTimeout(cfg.FeedSetupTimeout))
	mgr := syncengine.NewManager(b.store, feed, logger, syncengine.NewMetrics(reg), syncengine.Options{
		RetryMin: cfg.RetryMin,
		RetryMax: cfg.RetryMax,
		Refresh:  cfg.SyncRefresh,
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()
	hub := notify.NewHub(mgr, cfg.NotificationLogSize, logger)
	defer hub.Close()

	var locker *redislock.Client
	if b.redis != nil {
		locker = redislock.New(b.redis)
	}
	rlCfg, err := config.LoadRateLimitConfig()
	if err != nil {
		return err
	}

	mh := handler.NewManagementHandler(
		repository.NewWeatherRepo(b.store),
		repository.NewAnnouncementRepo(b.store),
		repository.NewTicketPriceRepo(b.store),
		repository.NewRouteMapRepo(b.store),
		repository.NewGalleryRepo(b.store),
		approval.New(repository.NewPendingAccountRepo(b.store), locker, cfg.ApprovalLockTTL, logger),
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	router.RegisterRoutes(e, mgr, reg)
	router.RegisterPortal(e, handler.NewPortalHandler(mgr), handler.NewNotificationHandler(hub), cfg.Secret())
	router.RegisterManagement(e, mh, cfg.Secret(), middleware.NewTokenBucket(rlCfg, b.redis, logger))

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.WithFields(map[string]any{"addr": addr, "env": cfg.Env, "feed": cfg.FeedBackend}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
