package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"natsvisor/internal/api"
	"natsvisor/internal/config"
	"natsvisor/internal/handlers"
	"natsvisor/internal/launch"
	"natsvisor/internal/logging"
	"natsvisor/internal/service"
	"natsvisor/internal/stager"
	"natsvisor/internal/store"
	"natsvisor/web"
)

func main() {
	configPath := flag.String("config", "", "Path to natsvisor configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootLogger := logging.New(logging.Config{}, "natsvisor")
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.New(cfg.Log, "natsvisor")

	presets, err := config.LoadPresets(cfg.PresetsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PresetsFile).Msg("Failed to load presets")
	}

	var runs handlers.RunLister
	supOpts := []service.Option{
		service.WithLogger(logging.Component(logger, "supervisor")),
		service.WithWaitDelay(cfg.Supervisor.WaitDelay),
	}
	if cfg.History.DSN != "" {
		st, err := store.Open(cfg.History.DSN)
		if err != nil {
			logger.Fatal().Err(err).Str("dsn", cfg.History.DSN).Msg("Failed to open run history")
		}
		defer st.Close()
		runs = st
		supOpts = append(supOpts, service.WithRecorder(st))
	}

	sup := service.NewSupervisor(supOpts...)

	launcher := service.NewLauncher(
		&stager.Stager{
			Assets:    os.DirFS(cfg.Stage.AssetsDir),
			AssetPath: cfg.Stage.AssetPath,
			Dir:       cfg.Stage.Dir,
			Name:      cfg.Stage.Name,
		},
		&launch.Builder{
			StorageRoot: cfg.StorageRoot,
			Logger:      logging.Component(logger, "launch"),
		},
		sup,
		presets,
		logging.Component(logger, "launcher"),
	)

	// Staging failure is fatal on first run.
	if _, err := launcher.Stage(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to stage gnatsd")
	}

	router, err := api.NewRouter(launcher, runs, web.GetTemplatesFS(), web.GetStaticFS(), logging.Component(logger, "http"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create router")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if _, err := launcher.Autostart(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Autostart failed")
	}

	go func() {
		logger.Info().
			Str("address", cfg.Server.Address).
			Int("presets", len(presets.Presets)).
			Str("storage_root", cfg.StorageRoot).
			Msg("Starting natsvisor control server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")
	shutdown(logger, srv, sup, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	logger.Info().Msg("natsvisor exited gracefully")
}

func shutdown(logger zerolog.Logger, srv *http.Server, sup *service.Supervisor, timeout time.Duration) {
	// gnatsd would otherwise be orphaned when we exit.
	if err := sup.Shutdown(timeout); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gnatsd")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
}
