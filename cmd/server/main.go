package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vitalcam/vitals-server/internal/analysis"
	"github.com/vitalcam/vitals-server/internal/broadcaster"
	"github.com/vitalcam/vitals-server/internal/config"
	"github.com/vitalcam/vitals-server/internal/logger"
	"github.com/vitalcam/vitals-server/internal/metrics"
	"github.com/vitalcam/vitals-server/internal/recorder"
	"github.com/vitalcam/vitals-server/internal/results"
	"github.com/vitalcam/vitals-server/internal/server"
	"github.com/vitalcam/vitals-server/internal/vitals"
	"github.com/vitalcam/vitals-server/pkg/ffmpeg"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg := config.New()

	var logLevel string
	var logColor bool

	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for videos and results")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	// The data flag moves the whole storage layout.
	cfg.VideoDir = filepath.Join(cfg.DataDir, "videos")
	cfg.ResultsDir = filepath.Join(cfg.DataDir, "results")

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	if err := ffmpeg.CheckInstallation(); err != nil {
		logger.Warn("Main", "%v; webcam capture and duration checks will fail", err)
	}

	for _, dir := range []string{cfg.VideoDir, cfg.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("could not create %s: %v", dir, err)
		}
	}

	m := metrics.New()
	bcast := broadcaster.New()
	store := results.NewStore(cfg.ResultsDir)
	engine := vitals.NewClient(cfg.EngineBaseURL, cfg.EngineTimeout)
	orch := analysis.New(engine, store, bcast, m, cfg.MaxUploadSize, cfg.MaxVideoDuration, cfg.DefaultAPIKey)

	camera := &recorder.V4L2Camera{MaxIndex: cfg.CameraMaxIndex, FPS: cfg.CameraFPS}
	rec := recorder.New(camera, bcast, orch.AnalyzeRecording, cfg.VideoDir, m)

	srv := server.NewServer(cfg, orch, rec, bcast, store, m)

	logger.Info("Main", "Vitals server listening on %s", cfg.Addr)
	logger.Info("Main", "Engine: %s, data: %s", cfg.EngineBaseURL, cfg.DataDir)
	logger.Info("Main", "Log level: %s", level)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-stop:
		logger.Info("Main", "Received %s, shutting down", sig)
		rec.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("Main", "Shutdown: %v", err)
		}
	}
}
