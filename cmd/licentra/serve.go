// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/licentra/licentra/internal/api"
	"github.com/licentra/licentra/internal/config"
	"github.com/licentra/licentra/internal/database"
	"github.com/licentra/licentra/internal/events"
	"github.com/licentra/licentra/internal/metrics"
	"github.com/licentra/licentra/internal/models"
	"github.com/licentra/licentra/internal/services"
)

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configDir, dataDir, logPath)
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (default is ./config.toml)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	return command
}

func runServer(configDir, dataDir, logPath string) error {
	cfg, err := config.New(resolveConfigPath(configDir))
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if dataDir != "" {
		cfg.Config.DataDir = dataDir
	}
	if logPath == "" {
		logPath = cfg.Config.LogPath
	}

	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		log.Logger = log.Output(logFile)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	config.SetLogLevel(cfg.Config.LogLevel)
	cfg.Watch()

	db, err := database.New(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	publisher := events.NewPublisher()
	publisher.Subscribe(func(e events.Event) {
		log.Debug().
			Str("event", string(e.Type)).
			Int("licenseId", e.LicenseID).
			Msg("License event")
	})

	licenseStore := models.NewLicenseStore(db.Conn())
	activationStore := models.NewActivationStore(db.Conn())
	resellerStore := models.NewResellerStore(db.Conn())
	userStore := models.NewUserStore(db.Conn())

	bindingService := services.NewBindingService(db, publisher)
	quotaService := services.NewQuotaService(db, resellerStore, userStore)

	licensing := cfg.Licensing()
	activityService, err := services.NewActivityService(
		activationStore,
		publisher,
		time.Duration(licensing.ActivityWindowMins)*time.Minute,
		time.Duration(licensing.ActivityCacheSeconds)*time.Second,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize activity service: %w", err)
	}
	defer activityService.Close()

	metricsManager := metrics.NewManager(db)

	router := api.NewRouter(&api.Dependencies{
		Config:          cfg,
		LicenseStore:    licenseStore,
		ActivationStore: activationStore,
		ResellerStore:   resellerStore,
		UserStore:       userStore,
		BindingService:  bindingService,
		QuotaService:    quotaService,
		ActivityService: activityService,
		MetricsManager:  metricsManager,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Config.Host, cfg.Config.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Config.HTTPTimeouts.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Config.HTTPTimeouts.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Config.HTTPTimeouts.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("version", Version).Msg("Starting licentra server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}

	return nil
}
