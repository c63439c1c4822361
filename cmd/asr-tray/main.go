package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/petems/asr-tray/internal/app"
	"github.com/petems/asr-tray/internal/audio"
	"github.com/petems/asr-tray/internal/config"
	"github.com/petems/asr-tray/internal/hotkey"
	"github.com/petems/asr-tray/internal/inject"
	"github.com/petems/asr-tray/internal/logging"
	"github.com/petems/asr-tray/internal/metrics"
	"github.com/petems/asr-tray/internal/permissions"
	"github.com/petems/asr-tray/internal/transport"
	"github.com/petems/asr-tray/internal/tray"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	serverURL := flag.String("url", "", "Recognizer WebSocket URL (overrides config)")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9100")
	headless := flag.Bool("headless", false, "Run without a tray: connect, stream the microphone and log results")
	flag.Parse()

	// A .env next to the binary is optional
	_ = godotenv.Load()

	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	cfg.ApplyEnv()
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			// A busy port should not take the recognizer down with it
			if err := m.Serve(gctx, cfg.MetricsAddr, log); err != nil {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
			return nil
		})
	}

	// Initialize audio capture
	capture, err := audio.New(cfg.Audio)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer capture.Close()

	session := transport.New(transport.Config{
		HandshakeTimeout: cfg.Stream.HandshakeTimeout.Std(),
		Logger:           log,
	})

	var (
		trayUI    *tray.UI
		headlessStatus *logStatus
		status    app.StatusUpdater
	)
	if *headless {
		headlessStatus = newLogStatus(log)
		status = headlessStatus
	} else {
		trayUI = tray.New(nil, cfg, log, Version, Commit) // App reference set below
		status = trayUI
	}

	application := app.New(app.Config{
		Audio:         capture,
		Transport:     session,
		Injector:      inject.New(),
		Metrics:       m,
		Config:        cfg,
		Logger:        log,
		StatusUpdater: status,
	})

	// The hotkey is a convenience; menu and headless mode work without it
	if hk := registerHotkey(cfg, application, log); hk != nil {
		defer hk.Close()
	}

	log.Info().
		Str("version", Version).
		Str("server", cfg.ServerURL).
		Bool("headless", *headless).
		Msg("ASR Tray starting...")

	if *headless {
		runHeadless(gctx, application, headlessStatus, log)
	} else {
		trayUI.SetApp(application)
		// Start tray UI - MUST run on main thread
		if err := trayUI.Run(gctx); err != nil {
			log.Error().Err(err).Msg("Tray error")
		}
	}

	log.Info().Msg("Shutting down...")
	if err := application.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	cancel()
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Background task error")
	}
}

func registerHotkey(cfg *config.Config, application *app.App, log zerolog.Logger) hotkey.Manager {
	// macOS needs accessibility approval before global hotkeys fire
	if err := permissions.EnsureAccessibility(); err != nil {
		log.Warn().Err(err).Msg("Hotkey disabled")
		return nil
	}

	hk, err := hotkey.New()
	if err != nil {
		log.Warn().Err(err).Msg("Hotkey disabled")
		return nil
	}

	accel := cfg.PlatformHotkey()
	if err := hk.Register(accel, application.OnHotkey); err != nil {
		log.Warn().Err(err).Str("hotkey", accel).Msg("Failed to register hotkey")
		hk.Close()
		return nil
	}

	log.Info().Str("hotkey", accel).Str("mode", cfg.Mode).Msg("Hotkey registered")
	return hk
}
