// Package main runs the Gratonite Guys pack lab behind an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xtding233/gratonite-lab/internal/catalog"
	"github.com/xtding233/gratonite-lab/internal/config"
	"github.com/xtding233/gratonite-lab/internal/lab"
	"github.com/xtding233/gratonite-lab/internal/observability"
	"github.com/xtding233/gratonite-lab/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file; empty uses defaults and GLAB_* env")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("lab server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	cat, err := catalog.LoadDir(cfg.Lab.ContentDir)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded",
		zap.String("dir", cfg.Lab.ContentDir),
		zap.Int("entries", cat.Size()),
		zap.Int("tiers", len(cat.PresentTiers())),
	)

	store, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := lab.New(ctx, lab.Options{
		Catalog:         cat,
		Store:           store,
		Logger:          logger.Named("lab"),
		OpenCost:        cfg.Lab.OpenCost,
		StartingCoins:   cfg.Lab.StartingCoins,
		StartingDust:    cfg.Lab.StartingDust,
		HistoryCapacity: cfg.Lab.HistoryCapacity,
		SaveTimeout:     cfg.Storage.SaveTimeout,
		RetryInitial:    cfg.Storage.RetryInitial,
		RetryMax:        cfg.Storage.RetryMax,
		RetryMaxElapsed: cfg.Storage.RetryMaxElapsed,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(server.Options{
			Engine:     engine,
			Logger:     logger.Named("http"),
			AllowGrant: cfg.Lab.AllowGrant,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("lab server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.Bool("allow_grant", cfg.Lab.AllowGrant),
			zap.Duration("startup", time.Since(start)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Lab.WatchContent {
		w := catalog.NewWatcher(cfg.Lab.ContentDir, 0, func(next *catalog.Catalog, err error) {
			if err != nil {
				logger.Warn("content changed and no longer loads", zap.Error(err))
				return
			}
			logger.Info("content changed, restart to apply",
				zap.Int("entries", next.Size()),
				zap.Int("running_entries", cat.Size()),
			)
		})
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := engine.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
