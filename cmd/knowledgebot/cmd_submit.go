package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/knowledgebot/internal/config"
)

func init() {
	rootCmd.AddCommand(submitCmd, decideCmd)
	decideCmd.Flags().String("category", "", "category to approve with")
	decideCmd.Flags().String("hint", "", "focus hint for regenerate")
}

var apiClient = &http.Client{Timeout: 30 * time.Second}

func apiURL(cfg *config.Config, path string) string {
	return "http://" + cfg.HTTP.Addr + path
}

// postJSON sends body to the daemon and decodes the reply into a generic map.
func postJSON(cfg *config.Config, path string, body any) (int, map[string]any, error) {
	if !cfg.HTTP.Enabled {
		return 0, nil, fmt.Errorf("the HTTP API is disabled; set http.enabled to true")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	resp, err := apiClient.Post(apiURL(cfg, path), "application/json", bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, out, nil
}

var submitCmd = &cobra.Command{
	Use:   "submit <user> <url>",
	Short: "Submit a video to the running daemon",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		code, body, err := postJSON(cfg, "/api/submit", map[string]string{"user": args[0], "url": args[1]})
		if err != nil {
			return err
		}
		if code != http.StatusAccepted {
			return fmt.Errorf("submit rejected (%d): %v", code, body["error"])
		}
		fmt.Fprintf(os.Stdout, "Submitted for %v (run %v).\n", body["user_id"], body["run_id"])
		return nil
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide <user> <approve|reject|regenerate>",
	Short: "Answer a session waiting for approval",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		category, _ := cmd.Flags().GetString("category")
		hint, _ := cmd.Flags().GetString("hint")

		path := "/api/sessions/" + url.PathEscape(args[0]) + "/decision"
		code, body, err := postJSON(cfg, path, map[string]string{
			"action":   strings.ToLower(args[1]),
			"category": category,
			"hint":     hint,
		})
		if err != nil {
			return err
		}
		switch code {
		case http.StatusOK:
			fmt.Fprintln(os.Stdout, "Decision applied.")
			return nil
		case http.StatusConflict:
			return fmt.Errorf("%s has no session waiting for a decision", args[0])
		default:
			return fmt.Errorf("decision rejected (%d): %v", code, body["error"])
		}
	},
}
