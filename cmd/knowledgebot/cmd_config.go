package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/knowledgebot/internal/adapter"
	"github.com/user/knowledgebot/internal/config"
	"github.com/user/knowledgebot/internal/ratelimit"
	"github.com/user/knowledgebot/internal/types"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configKeysCmd, configGetCmd, configSetCmd, configCheckCmd)

	configListCmd.Flags().Bool("show-secrets", false, "print credentials unmasked")
	configCheckCmd.Flags().Bool("offline", false, "only validate values, do not contact backends")
	configCheckCmd.Flags().Duration("timeout", 10*time.Second, "per-backend check timeout")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		show, _ := cmd.Flags().GetBool("show-secrets")
		values, err := config.ListValues(loadConfig(), !show)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(os.Stdout, "%s = %v\n", k, values[k])
		}
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys config set accepts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.Keys() {
			if config.IsSecretKey(k) {
				fmt.Fprintf(os.Stdout, "%s (secret)\n", k)
				continue
			}
			fmt.Fprintln(os.Stdout, k)
		}
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value by dot-separated key (see "config keys").
Numbers, booleans and JSON arrays are stored typed; durations are strings
such as "45m". Values that would not load are refused.`,
	Example: `  knowledgebot config set pipeline.ttl 45m
  knowledgebot config set pipeline.timeouts.storage 1m
  knowledgebot config set storage.fallback sqlite
  knowledgebot config set pipeline.categories '["ai","devops","linux"]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return err
		}
		if config.IsSecretKey(key) {
			value = "***"
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", key, value)
		if pid, err := daemonPID(loadConfig()); err == nil {
			fmt.Fprintf(os.Stdout, "The daemon (PID %d) reads config at start; run \"knowledgebot restart\" to apply.\n", pid)
		}
		return nil
	},
}

// backendCheck is one backend reachability check.
type backendCheck struct {
	name  string
	check func(ctx context.Context) error
}

// backendChecks lists the backends the daemon would contact with cfg.
func backendChecks(cfg *config.Config) []backendCheck {
	lifecycle := func(m types.Lifecycle) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			if !m.Healthcheck(ctx) {
				return errors.New("unhealthy")
			}
			return nil
		}
	}

	extraction := adapter.NewExtraction(adapter.ExtractionConfig{
		BaseURL: cfg.Extraction.BaseURL,
		APIKey:  cfg.Extraction.APIKey,
	}, nil)
	out := []backendCheck{
		{"extraction " + cfg.Extraction.BaseURL, lifecycle(extraction)},
		{"analysis model " + cfg.Analysis.Model, lifecycle(adapter.NewAnalysis(newProvider(cfg, cfg.Analysis.Model), cfg.Analysis.Model, nil))},
		{"enrichment model " + cfg.Enrichment.Model, lifecycle(adapter.NewEnrichment(newProvider(cfg, cfg.Enrichment.Model), cfg.Enrichment.Model))},
	}

	for _, backend := range []string{cfg.Storage.Primary, cfg.Storage.Fallback} {
		if backend == "" {
			continue
		}
		out = append(out, backendCheck{"store " + backend, func(ctx context.Context) error {
			s, err := openBackend(ctx, cfg, backend)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			return lifecycle(s)(ctx)
		}})
	}

	if cfg.RateLimit.RedisURL != "" {
		out = append(out, backendCheck{"rate limit redis", func(ctx context.Context) error {
			r, err := ratelimit.NewRedis(cfg.RateLimit.RedisURL, cfg.RateLimit.PerHour)
			if err != nil {
				return err
			}
			defer r.Close()
			return r.Ping(ctx)
		}})
	}
	return out
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and check its backends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s is valid.\n", cfgPath)
		if offline, _ := cmd.Flags().GetBool("offline"); offline {
			return nil
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		failed := 0
		for _, p := range backendChecks(cfg) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := p.check(ctx)
			cancel()
			status := "ok"
			if err != nil {
				failed++
				status = "FAIL: " + err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\n", p.name, status)
		}
		w.Flush()
		if failed > 0 {
			return fmt.Errorf("%d backend(s) unreachable", failed)
		}
		return nil
	},
}
