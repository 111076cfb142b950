package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/petems/capture-tray/internal/app"
	"github.com/petems/capture-tray/internal/artifact"
	"github.com/petems/capture-tray/internal/config"
	"github.com/petems/capture-tray/internal/device"
	"github.com/petems/capture-tray/internal/gate"
	"github.com/petems/capture-tray/internal/hotkey"
	"github.com/petems/capture-tray/internal/logging"
	"github.com/petems/capture-tray/internal/media"
	"github.com/petems/capture-tray/internal/permissions"
	"github.com/petems/capture-tray/internal/preview"
	"github.com/petems/capture-tray/internal/recorder"
	"github.com/petems/capture-tray/internal/tray"
	"github.com/petems/capture-tray/internal/web"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	configPath := pflag.String("config", "", "Path to the config file (default: platform config dir)")
	logLevel := pflag.String("log-level", "", "Log level, overrides the config file")
	outputDir := pflag.String("output-dir", "", "Directory captures are saved to, overrides the config file")
	previewAddr := pflag.String("preview-addr", "", "Listen address of the preview page, overrides the config file")
	pflag.Parse()

	// Load config from XDG/Library/AppData
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Flag overrides apply to this run only and are never written back.
	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	dir := cfg.OutputDir
	if *outputDir != "" {
		dir = *outputDir
	}
	addr := cfg.Preview.Addr
	if *previewAddr != "" {
		addr = *previewAddr
	}

	log := logging.NewWithLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	platform := device.NewPlatform(cfg, log.With().Str("component", "device").Logger())

	facing := media.FacingMode(cfg.FacingMode)
	application := app.New(app.Config{
		Gate: gate.New(platform, permissions.RequestMedia, log.With().Str("component", "gate").Logger()),
		Preview: preview.New(platform, preview.Options{
			Facing:       facing,
			IncludeAudio: cfg.IncludeAudio,
			Width:        cfg.Preview.Width,
			Height:       cfg.Preview.Height,
			JPEGQuality:  cfg.Preview.JPEGQuality,
			Logger:       log.With().Str("component", "preview").Logger(),
		}),
		Devices: platform,
		NewRecorder: recorder.Factory(recorder.Options{
			Timeslice: time.Duration(cfg.Recorder.Timeslice),
			Logger:    log.With().Str("component", "recorder").Logger(),
		}),
		Saver:    artifact.NewSaver(dir, log.With().Str("component", "artifact").Logger()),
		Settings: platform,
		Config:   cfg,
		Logger:   log,
	})

	server := web.New(application, web.Options{
		Addr:   addr,
		Width:  cfg.Preview.Width,
		Height: cfg.Preview.Height,
		Logger: log.With().Str("component", "web").Logger(),
	})

	trayUI := tray.New(application, cfg, Version, Commit, server.URL, log)
	application.SetStatusUpdater(trayUI)

	// Hotkeys need accessibility approval on macOS; without it the menu still works.
	if ok, err := permissions.CheckAccessibility(); err == nil && !ok {
		log.Warn().Msg("Accessibility permission not granted, the capture hotkey may not fire")
	}
	hkManager, err := hotkey.New()
	if err != nil {
		log.Warn().Err(err).Msg("Global hotkeys unavailable")
	} else {
		defer hkManager.Close()
		if err := hkManager.Register(cfg.PlatformHotkey(), application.OnHotkey); err != nil {
			log.Warn().Err(err).Str("hotkey", cfg.PlatformHotkey()).Msg("Failed to register hotkey")
		}
	}

	log.Info().Str("version", Version).Str("output_dir", dir).Msg("CaptureTray starting...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		// The gate may block on an OS permission prompt.
		st := application.Mount(gctx)
		log.Info().Bool("granted", st.Granted).Msg("Device check finished")
		return nil
	})

	// Start tray UI - MUST run on main thread
	trayUI.Run(gctx, cancel)

	log.Info().Msg("Shutting down...")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Preview server error")
	}
	if err := application.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	if err := platform.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to release devices")
	}
}
