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

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"attendance-punch/config"
	"attendance-punch/internal/api"
	"attendance-punch/internal/db"
	"attendance-punch/internal/lifecycle"
	"attendance-punch/internal/logging"
	"attendance-punch/internal/notification"
	"attendance-punch/internal/punch"
	"attendance-punch/internal/scheduler"
	"attendance-punch/internal/store"
)

// Exit statuses.
const (
	exitOK             = 0
	exitFailure        = 1
	exitAlreadyRunning = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env file is fine.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	boot := logging.NewWithOutput("info", zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	cfg := config.LoadOrDefault(configPath, boot)

	logger, closer, err := logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		boot.Error().Err(err).Msg("failed to initialize logging")
		return exitFailure
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pidFile := lifecycle.NewPIDFile(cfg.Service.PIDFile)
	if err := pidFile.Acquire(ctx); err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyRunning) {
			fmt.Fprintf(os.Stderr, "Service already running: %v\n", err)
			return exitAlreadyRunning
		}
		logger.Error().Err(err).Msg("failed to record process id")
		return exitFailure
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			logger.Warn().Err(err).Msg("failed to remove pid file")
		}
	}()

	gormDB, err := db.Init(&cfg.Storage, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize database")
		return exitFailure
	}
	appStore := store.NewGormStore(gormDB)
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("data store initialized")

	refresher := &punch.HTTPRefresher{
		URL:       cfg.Endpoint.RefreshURL,
		UserAgent: cfg.Endpoint.Headers["User-Agent"],
		Timeout:   cfg.Service.Timeout,
		Transport: punch.NewTransport(cfg.Endpoint.HTTPProxy, logger),
	}
	submitter := punch.NewSubmitter(cfg, appStore, refresher, logger)

	var (
		notifier       scheduler.Notifier
		webpushOptions *webpush.Options
	)
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, logger)
		pool.Start(ctx)
		notifier = pool
	} else {
		logger.Info().Msg("VAPID keys not configured, push alerts disabled")
	}

	svc := scheduler.NewService(cfg, submitter, appStore, lifecycle.NewAlertMarker(cfg.Service.AlertFile), notifier, logger)

	reloadConfig := func() *config.Config {
		return config.LoadOrDefault(configPath, logger)
	}

	var server *http.Server
	if cfg.Server.Enabled {
		router := api.NewRouter(cfg.Server, api.NewHandler(svc, appStore, webpushOptions, reloadConfig), logger)
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("HTTP server stopped unexpectedly")
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGHUP {
				logger.Info().Msg("received reload signal, reconfiguring schedule")
				svc.RequestReload(reloadConfig())
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("received signal, preparing to shut down")
			svc.Stop()
		}
	}()

	logger.Info().Int("pid", os.Getpid()).Str("config", configPath).Msg("attendance service started")
	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("service runtime error")
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server shutdown")
		}
	}

	logger.Info().Msg("attendance service stopped")
	return exitOK
}
