package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/user/knowledgebot/internal/adapter"
	"github.com/user/knowledgebot/internal/config"
	"github.com/user/knowledgebot/internal/delivery"
	"github.com/user/knowledgebot/internal/excerpt"
	"github.com/user/knowledgebot/internal/pipeline"
	"github.com/user/knowledgebot/internal/session"
	"github.com/user/knowledgebot/internal/source"
	"github.com/user/knowledgebot/internal/state"
	"github.com/user/knowledgebot/internal/telegram"
	"github.com/user/knowledgebot/internal/webhook"
	"github.com/user/knowledgebot/pkg/llm"
	"github.com/user/knowledgebot/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the knowledgebot daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	pidPath := cfg.PIDFile()
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func newProvider(cfg *config.Config, model string) llm.Provider {
	return openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	p := cfg.Pipeline
	return pipeline.Config{
		MaxAttempts:      p.MaxAttempts,
		BaseDelay:        p.BaseDelay.D(),
		MaxDelay:         p.MaxDelay.D(),
		Jitter:           p.Jitter,
		MaxRegenerations: p.MaxRegenerations,
		MaxConcurrent:    int64(p.MaxConcurrent),
		MaxImages:        cfg.Image.MaxImages,
		Timeouts: pipeline.Timeouts{
			Download:   p.Timeouts.Download.D(),
			Analysis:   p.Timeouts.Analysis.D(),
			Enrichment: p.Timeouts.Enrichment.D(),
			Images:     p.Timeouts.Images.D(),
			Storage:    p.Timeouts.Storage.D(),
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(cfg.LockFile())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another knowledgebot daemon is already running")
	}
	defer lock.Unlock()

	// Write PID file
	pidPath, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Adapters
	extraction := adapter.NewExtraction(adapter.ExtractionConfig{
		BaseURL:      cfg.Extraction.BaseURL,
		APIKey:       cfg.Extraction.APIKey,
		Format:       cfg.Extraction.Format,
		PollInterval: cfg.Extraction.PollInterval.D(),
		MaxDuration:  cfg.Pipeline.MaxVideoDuration.D(),
		DownloadDir:  cfg.Extraction.DownloadDir,
	}, nil)
	analysis := adapter.NewAnalysis(newProvider(cfg, cfg.Analysis.Model), cfg.Analysis.Model, cfg.Pipeline.Categories)
	enrichment := adapter.NewEnrichment(newProvider(cfg, cfg.Enrichment.Model), cfg.Enrichment.Model)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	adapters := adapter.NewRegistry(extraction, analysis, enrichment, store)
	defer func() {
		if err := adapters.Shutdown(); err != nil {
			slog.Warn("adapter shutdown", "error", err)
		}
	}()

	svc := pipeline.Services{
		Extractor: extraction,
		Analyzer:  analysis,
		Enricher:  enrichment,
		Store:     store,
	}
	if cfg.Image.Enabled {
		img := adapter.NewImage(newProvider(cfg, cfg.Image.Model), cfg.Image.Model, cfg.Image.Dir)
		adapters.Add(img)
		svc.Illustrator = img
	}

	limiter, closeLimiter, err := buildLimiter(cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	matcher, err := source.NewMatcher(cfg.Pipeline.ExtraURLPatterns)
	if err != nil {
		return fmt.Errorf("url patterns: %w", err)
	}

	budget, err := excerpt.New(cfg.Enrichment.Model, cfg.Image.ExcerptTokens)
	if err != nil {
		slog.Warn("no tokenizer for model, approximating excerpt budget", "model", cfg.Enrichment.Model, "error", err)
		budget = excerpt.Approximate(cfg.Image.ExcerptTokens)
	}

	journal := state.NewJournal(cfg.JournalDir())
	sessions := session.NewStore()
	fronts := delivery.NewRegistry()

	gate := pipeline.NewGate(sessions, fronts, cfg.Pipeline.Categories)
	orch := pipeline.New(sessions, gate, fronts, svc, pipelineConfig(cfg),
		pipeline.WithRecorder(journal),
		pipeline.WithLimiter(limiter),
		pipeline.WithMatcher(matcher),
		pipeline.WithExcerpt(budget),
	)
	janitor := pipeline.NewJanitor(sessions, orch, cfg.Pipeline.TTL.D(), cfg.Pipeline.SweepInterval.D())

	// Startup healthcheck; unhealthy adapters are logged, not fatal.
	hctx, hcancel := context.WithTimeout(ctx, 15*time.Second)
	for name, healthy := range adapters.Healthcheck(hctx) {
		if !healthy {
			slog.Warn("adapter unhealthy at startup", "adapter", name)
		}
	}
	hcancel()

	orch.Start(ctx)
	if err := janitor.Start(); err != nil {
		orch.Stop()
		return fmt.Errorf("start janitor: %w", err)
	}

	slog.Info("knowledgebot started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.Pipeline.MaxConcurrent,
		"ttl", cfg.Pipeline.TTL.D(),
		"platforms", matcher.Names(),
		"store", store.Name(),
		"images", cfg.Image.Enabled,
		"pid_file", pidPath,
	)

	// Front-ends poll on their own context so they can stop taking input
	// while the orchestrator still delivers shutdown notices.
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		bot, err := telegram.New(cfg.Telegram.Token, orch, gate, sessions, cfg.Telegram.AllowedUsers)
		if err != nil {
			stopPolling()
			janitor.Stop()
			orch.Stop()
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		fronts.Register(telegram.Channel, bot)
		go bot.Start(pollCtx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// HTTP API
	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		mailbox := delivery.NewMailbox(0)
		fronts.Register(webhook.Channel, mailbox)
		srv := webhook.NewServer(webhook.Deps{
			Pipeline: orch,
			Gate:     gate,
			Sessions: sessions,
			History:  journal,
			Health:   adapters,
			Mailbox:  mailbox,
			Entries:  store,
		})
		httpServer = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server started", "addr", cfg.HTTP.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	// shutdown stops input, fails in-flight sessions, then stops the
	// janitor. Adapters are released by the deferred registry shutdown.
	shutdown := func() {
		stopPolling()
		if httpServer != nil {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := httpServer.Shutdown(sctx); err != nil {
				slog.Warn("http server shutdown", "error", err)
			}
			scancel()
		}
		orch.Stop()
		janitor.Stop()
		slog.Info("pipeline stopped")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// The new process takes the lock, so everything is released first.
			shutdown()
			if err := adapters.Shutdown(); err != nil {
				slog.Warn("adapter shutdown", "error", err)
			}
			closeLimiter()
			os.Remove(pidPath)
			lock.Unlock()
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				return fmt.Errorf("re-exec: %w", err)
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		shutdown()
		return nil
	}
}
