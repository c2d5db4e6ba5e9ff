package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amanullahtanweer/segscribe/internal/api"
	"github.com/amanullahtanweer/segscribe/internal/config"
	"github.com/amanullahtanweer/segscribe/internal/engine"
	"github.com/amanullahtanweer/segscribe/internal/server"
)

var version = "dev"

func main() {
	var configFile string
	var noAudioSocket bool
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path (.yaml or .toml)")
	flag.BoolVar(&noAudioSocket, "http-only", false, "Serve only the HTTP API")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := engine.Wire(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	var calls *server.Server
	if !noAudioSocket {
		calls, err = server.New(server.Config{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			Backend:         cfg.DefaultBackend,
			Language:        cfg.Engine.Language,
			Format:          cfg.Engine.Format,
			MaxWorkers:      cfg.Engine.MaxWorkers,
			OutputDir:       cfg.Transcription.OutputDir,
			SaveTranscripts: cfg.Transcription.SaveTranscripts,
			SaveAudio:       cfg.Transcription.SaveAudio,

			RemoveRepetitions: cfg.Engine.RemoveRepetitions,
		}, rt.Engine, logger)
		if err != nil {
			logger.Error("failed to create AudioSocket server", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := calls.Start(); err != nil {
				logger.Error("AudioSocket server error", "error", err)
				stop()
			}
		}()
	}

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewHandler(rt.Engine, rt.Tracker, api.Options{
			UploadDir:   cfg.HTTP.UploadDir,
			OutputDir:   cfg.Transcription.OutputDir,
			MaxUploadMB: cfg.HTTP.MaxUploadMB,
			Backends:    rt.Registry.Names(),
			Version:     version,
			Logger:      logger,

			RemoveRepetitions: cfg.Engine.RemoveRepetitions,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.HTTP.Addr, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	if calls != nil {
		calls.Stop(shutdownCtx)
	}
}
