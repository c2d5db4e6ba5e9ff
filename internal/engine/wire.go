package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/amanullahtanweer/segscribe/internal/archive"
	"github.com/amanullahtanweer/segscribe/internal/assemble"
	"github.com/amanullahtanweer/segscribe/internal/config"
	"github.com/amanullahtanweer/segscribe/internal/media"
	"github.com/amanullahtanweer/segscribe/internal/progress"
	"github.com/amanullahtanweer/segscribe/internal/transcriber"
	"github.com/amanullahtanweer/segscribe/internal/workspace"
	"github.com/redis/go-redis/v9"
)

// Runtime is an engine together with the shared resources it was built
// from. Close releases them.
type Runtime struct {
	Engine   *Engine
	Registry *transcriber.Registry
	Tracker  progress.Tracker
	Archive  *archive.Archive
	Redis    *redis.Client
}

// Wire builds the engine described by cfg. Redis and the archive are only
// connected when configured.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	targets := make(map[string]transcriber.Target, len(cfg.Backends))
	for name, b := range cfg.Backends {
		targets[name] = transcriber.Target{Name: name, Kind: b.Kind, Endpoint: b.Endpoint, Model: b.Model, APIKey: b.APIKey}
	}
	rt.Registry = transcriber.NewRegistry(targets, cfg.DefaultBackend)

	var backend transcriber.Backend = transcriber.NewRouter().
		Handle(transcriber.KindOpenAI, transcriber.NewOpenAIBackend(&http.Client{})).
		Handle(transcriber.KindVosk, transcriber.NewVoskBackend()).
		Handle(transcriber.KindAssemblyAI, transcriber.NewAssemblyAIBackend())

	rt.Tracker = progress.NewMemoryTracker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, cache and shared progress disabled", "addr", cfg.Redis.Addr, "error", err)
			rdb.Close()
		} else {
			rt.Redis = rdb
			backend = transcriber.NewCachedBackend(backend, rdb, cfg.Redis.Prefix, cfg.Redis.CacheTTL.Duration, logger)
			rt.Tracker = progress.NewRedisTracker(rdb, cfg.Redis.Prefix, cfg.Redis.ProgressTTL.Duration)
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	}

	if cfg.Archive.Path != "" {
		a, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Archive = a
	}

	format, err := assemble.ParseFormat(cfg.Engine.Format)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("engine.format: %w", err)
	}

	opts := Options{
		Normalizer:      media.NewNormalizer(cfg.Engine.FFmpegPath, cfg.Engine.FFprobePath, logger),
		Workspace:       workspace.NewManager(cfg.Engine.ScratchDir, logger),
		Backend:         backend,
		Registry:        rt.Registry,
		SegmentLengthMs: cfg.Engine.SegmentLengthMs,
		OverlapMs:       cfg.Engine.OverlapMs,
		MaxWorkers:      cfg.Engine.MaxWorkers,
		SegmentTimeout:  cfg.Engine.SegmentTimeout.Duration,
		Params: transcriber.Params{
			Language:          cfg.Engine.Language,
			Temperature:       cfg.Engine.Temperature,
			Seed:              cfg.Engine.Seed,
			RepetitionPenalty: cfg.Engine.RepetitionPenalty,
		},
		Format:        format,
		Tracker:       rt.Tracker,
		SessionLogDir: cfg.Log.SessionDir,
		Logger:        logger,
	}
	if rt.Archive != nil {
		opts.Archive = rt.Archive
	}

	rt.Engine, err = New(opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) Close() error {
	var errs []error
	if rt.Archive != nil {
		errs = append(errs, rt.Archive.Close())
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	return errors.Join(errs...)
}
