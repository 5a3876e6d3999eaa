// Meetscribe server - records meetings, streams live captions, and writes
// transcript and summary artifacts.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meetscribe/platform/internal/audio"
	"github.com/meetscribe/platform/internal/config"
	"github.com/meetscribe/platform/internal/engine"
	"github.com/meetscribe/platform/internal/hub"
	"github.com/meetscribe/platform/internal/orchestrator"
	"github.com/meetscribe/platform/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Audio backend and device inventory
	backend := audio.NewBackend(cfg.Audio.Backend)
	defer func() { _ = backend.Close() }()

	inventory := audio.NewInventory(backend, cfg.Audio.ExcludedDevices)
	if err := inventory.Refresh(); err != nil {
		slog.Warn("initial device enumeration failed", "error", err)
	}

	// External inference engines
	transcriber := engine.NewWhisperClient(cfg.Engines.WhisperURL, cfg.Engines.WhisperTimeout)
	summarizer := engine.NewOllamaClient(cfg.Engines.OllamaURL, cfg.Engines.OllamaModel)

	// Event fan-out and meeting controller
	events := hub.New()
	ctrl := orchestrator.New(cfg, backend, inventory, transcriber, summarizer, events)

	srv := server.New(ctrl, inventory, events)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket subscriptions stay open indefinitely
	}

	go func() {
		slog.Info("meetscribe server starting",
			"http", cfg.HTTPAddr, "output_dir", cfg.OutputDir,
			"whisper", cfg.Engines.WhisperURL, "ollama", cfg.Engines.OllamaURL)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop active meetings first so their artifacts land on disk.
	ctrl.Shutdown(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}
