package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/knowledgebot/internal/config"
	"github.com/user/knowledgebot/internal/knowledge"
	"github.com/user/knowledgebot/internal/ratelimit"
	"github.com/user/knowledgebot/internal/types"
)

// openBackend opens one named knowledge store backend.
func openBackend(ctx context.Context, cfg *config.Config, name string) (types.KnowledgeStore, error) {
	switch name {
	case "markdown":
		return knowledge.NewMarkdown(cfg.Storage.Markdown.Root), nil
	case "sqlite":
		return knowledge.OpenSQLite(ctx, cfg.Storage.SQLite.Path)
	case "supabase":
		return knowledge.NewSupabase(knowledge.SupabaseConfig{
			URL:    cfg.Storage.Supabase.URL,
			APIKey: cfg.Storage.Supabase.APIKey,
			Table:  cfg.Storage.Supabase.Table,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", name)
	}
}

// openStore builds the configured primary store and, when set, wraps it
// with the fallback.
func openStore(ctx context.Context, cfg *config.Config) (*knowledge.Fanout, error) {
	primary, err := openBackend(ctx, cfg, cfg.Storage.Primary)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Primary, err)
	}
	var fallback types.KnowledgeStore
	if cfg.Storage.Fallback != "" && cfg.Storage.Fallback != cfg.Storage.Primary {
		fallback, err = openBackend(ctx, cfg, cfg.Storage.Fallback)
		if err != nil {
			primary.Shutdown()
			return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Fallback, err)
		}
	}
	return knowledge.NewFanout(primary, fallback), nil
}

// buildLimiter picks the shared Redis limiter when a URL is configured,
// an in-process one otherwise. The returned close func is never nil.
func buildLimiter(cfg *config.Config) (ratelimit.Limiter, func(), error) {
	if cfg.RateLimit.PerHour <= 0 {
		return ratelimit.Unlimited{}, func() {}, nil
	}
	if cfg.RateLimit.RedisURL != "" {
		r, err := ratelimit.NewRedis(cfg.RateLimit.RedisURL, cfg.RateLimit.PerHour)
		if err != nil {
			return nil, nil, fmt.Errorf("connect rate limit redis: %w", err)
		}
		return r, func() {
			if err := r.Close(); err != nil {
				slog.Warn("close rate limit redis", "error", err)
			}
		}, nil
	}
	return ratelimit.NewMemory(cfg.RateLimit.PerHour), func() {}, nil
}
