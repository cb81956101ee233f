package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/voicewire/voicewire/internal/audio"
	"github.com/voicewire/voicewire/internal/bus"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/coordinator"
	"github.com/voicewire/voicewire/internal/recognition"
	"github.com/voicewire/voicewire/internal/vad"
	"github.com/voicewire/voicewire/pkg/Logger"
)

// Main entry point for the voicewire daemon.
// Wires the audio graph, VAD, recognition session, and coordinator, and
// serves the message bus over websocket.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := Logger.New(cfg.Debug)
	logger.Infow("starting voicewire",
		"sampleRate", cfg.Audio.SampleRate,
		"engineURL", cfg.Recognition.EngineURL,
		"addr", cfg.Server.Addr,
	)

	source, err := audio.NewMalgoSource(cfg.Audio.SampleRate)
	if err != nil {
		logger.Fatalf("audio backend unavailable: %v", err)
	}
	graph := audio.NewGraph(cfg.Audio, source, logger)

	if cfg.DebugTools.RecordDir != "" {
		rec, err := audio.NewRecorder(afero.NewOsFs(), cfg.DebugTools.RecordDir, cfg.Audio.SampleRate)
		if err != nil {
			logger.Warnf("debug recorder disabled: %v", err)
		} else {
			logger.Infow("debug recording enabled", "path", rec.Path())
			graph.SetRecorder(rec)
		}
	}

	detector := vad.New(cfg.VAD, graph.Analyzer(), logger)

	engine, err := recognition.NewWSEngine(cfg.Recognition.EngineURL, graph, logger)
	if err != nil {
		// ConfigurationError: terminal for this context, reported once.
		logger.Fatalf("recognition unavailable: %v", err)
	}
	session := recognition.NewSession(recognition.SessionConfig{
		Locale:          cfg.Recognition.Locale,
		MaxAlternatives: cfg.Recognition.MaxAlternatives,
		NetworkRetry:    cfg.Recognition.NetworkRetry,
		DefaultRetry:    cfg.Recognition.DefaultRetry,
	}, engine, logger)

	playback := audio.NewPlaybackRegistry()

	dispatcher := bus.NewDispatcher(logger)
	server := bus.NewServer(dispatcher, logger)

	coord := coordinator.New(
		graph,
		detector,
		session,
		playback,
		dispatcher,
		server.Inbound(),
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go session.Run(ctx)
	go coord.Run(ctx)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	server.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("bus server exiting: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("bus server shutdown: %v", err)
	}
}
