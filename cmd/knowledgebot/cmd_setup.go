package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/knowledgebot/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Knowledgebot Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Extraction.BaseURL = prompt(scanner, "Video download service URL", cfg.Extraction.BaseURL)
		cfg.Extraction.APIKey = prompt(scanner, "Video download service API key (optional)", cfg.Extraction.APIKey)

		cfg.LLM.BaseURL = prompt(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.Analysis.Model = prompt(scanner, "Analysis model", cfg.Analysis.Model)
		cfg.Enrichment.Model = prompt(scanner, "Enrichment model", cfg.Enrichment.Model)

		if yes(prompt(scanner, "Generate diagrams? (y/n)", boolDefault(cfg.Image.Enabled))) {
			cfg.Image.Enabled = true
			cfg.Image.Model = prompt(scanner, "Image model", cfg.Image.Model)
		} else {
			cfg.Image.Enabled = false
		}

		cfg.Storage.Primary = prompt(scanner, "Knowledge store (markdown, sqlite, supabase)", cfg.Storage.Primary)
		if cfg.Storage.Primary == "supabase" {
			cfg.Storage.Supabase.URL = prompt(scanner, "Supabase URL", cfg.Storage.Supabase.URL)
			cfg.Storage.Supabase.APIKey = prompt(scanner, "Supabase key", cfg.Storage.Supabase.APIKey)
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		perHour := prompt(scanner, "Submissions per user per hour (0 = unlimited)", strconv.Itoa(cfg.RateLimit.PerHour))
		if n, err := strconv.Atoi(perHour); err == nil {
			cfg.RateLimit.PerHour = n
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func boolDefault(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

func yes(s string) bool {
	switch strings.ToLower(s) {
	case "y", "yes", "true":
		return true
	}
	return false
}
