package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/backend/provider"
	"github.com/aretw0/tendril/internal/config"
	redisAdapter "github.com/aretw0/tendril/pkg/adapters/redis"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/redis/go-redis/v9"
)

// buildAgent turns the configuration into an Agent. The returned cleanup closes
// the redis client, if one was opened.
func buildAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger, hooks domain.LifecycleHooks) (*tendril.Agent, func(), error) {
	backend, err := provider.New(cfg.Backend, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []tendril.Option{
		tendril.WithBackend(backend),
		tendril.WithLogger(logger),
		tendril.WithSystemPrompt(cfg.Agent.SystemPrompt),
		tendril.WithLifecycleHooks(observability.LogHooks(logger)),
		tendril.WithLifecycleHooks(hooks),
		tendril.WithMaxIterations(cfg.Agent.MaxIterations),
		tendril.WithTokenThreshold(cfg.Agent.TokenThreshold),
		tendril.WithMaxParallelTools(cfg.Agent.MaxParallelTools),
		tendril.WithMaxInput(cfg.Agent.MaxInputBytes),
		tendril.WithPhrases(phraseSeed(cfg.Agent.PhraseSeed)),
		tendril.WithCompressor(compressor(cfg.Agent.Compression, backend)),
	}

	cleanup := func() {}
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker := redisAdapter.NewLocker(client, cfg.Redis.Prefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := locker.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("distributed session lock enabled", "redis", cfg.Redis.Addr)
		opts = append(opts, tendril.WithLocker(locker, cfg.Redis.LockTTL))
		cleanup = func() { _ = client.Close() }
	}

	agent, err := tendril.New(opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return agent, cleanup, nil
}

func compressor(cfg config.CompressionConfig, backend ports.Backend) tendril.Compressor {
	truncate := tendril.NewTruncator(cfg.KeepRecent, cfg.PreviewRunes)
	switch cfg.Strategy {
	case config.CompressOff:
		return tendril.ChainCompressors()
	case config.CompressSummarize:
		return tendril.NewSummarizer(backend)
	case config.CompressChain:
		return tendril.ChainCompressors(truncate, tendril.NewSummarizer(backend))
	default:
		return truncate
	}
}

func phraseSeed(seed uint64) uint64 {
	if seed == 0 {
		return uint64(time.Now().UnixNano())
	}
	return seed
}
