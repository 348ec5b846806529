package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"onionchat/internal/config"
	"onionchat/internal/constants"
	"onionchat/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat session and the local view API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting onionchat")

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	if err := eng.start(ctx); err != nil {
		return err
	}

	watcher := config.NewConfigWatcher(configPath, logger)
	if !verbose {
		watcher.OnConfigChange(config.ApplyLogLevel(logger))
	}

	scheduler := service.NewScheduler(eng.db, cfg.RetentionDays, constants.DefaultCleanupIntervalMin*time.Minute, logger)
	server := NewServer(cfg.Server.ListenAddr, eng.session, eng.contacts, eng.db, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		scheduler.Start(gctx)
		return nil
	})

	g.Go(func() error {
		if err := watcher.Start(gctx); err != nil {
			// Reloading is optional; the running configuration stays in effect.
			logger.WithError(err).Warn("Configuration watcher unavailable")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")

		scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(err)
		return err
	}

	logger.Info("Server shutdown completed")
	return nil
}
