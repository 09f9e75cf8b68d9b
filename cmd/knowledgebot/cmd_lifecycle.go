package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/knowledgebot/internal/config"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd)
	for _, c := range []*cobra.Command{stopCmd, restartCmd} {
		c.Flags().Duration("wait", 30*time.Second, "how long to wait for the daemon (0 to return immediately)")
	}
}

// daemonPID returns the PID recorded by serve, after checking with signal
// 0 that the process is still there.
func daemonPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(cfg.PIDFile())
	if errors.Is(err, os.ErrNotExist) {
		return 0, errors.New("no running daemon (PID file not found)")
	}
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, fmt.Errorf("no running daemon (process %d not found)", pid)
	}
	return pid, nil
}

type inFlightSession struct {
	UserID string `json:"user_id"`
	Stage  string `json:"stage"`
	Title  string `json:"title"`
}

// inFlight asks the daemon which sessions are open. It returns nil without
// error when the HTTP API is off, since there is nobody to ask.
func inFlight(ctx context.Context, cfg *config.Config) ([]inFlightSession, error) {
	if !cfg.HTTP.Enabled {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL(cfg, "/api/sessions"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions: status %d", resp.StatusCode)
	}
	var out []inFlightSession
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}

// warnInFlight prints the sessions a stop or restart is about to fail.
func warnInFlight(cfg *config.Config, verb string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sessions, err := inFlight(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not list sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		return
	}
	fmt.Fprintf(os.Stdout, "%s will fail %d session(s) in flight; their users are told to resend:\n", verb, len(sessions))
	for _, s := range sessions {
		line := fmt.Sprintf("  %s  %s", s.UserID, s.Stage)
		if s.Title != "" {
			line += "  " + s.Title
		}
		fmt.Fprintln(os.Stdout, line)
	}
}

// waitFor polls done every 200ms until it returns true or wait elapses.
func waitFor(wait time.Duration, done func() bool) bool {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if done() {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return done()
}

func healthy(cfg *config.Config) bool {
	resp, err := apiClient.Get(apiURL(cfg, "/health"))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusServiceUnavailable
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Stop the running daemon. Sessions still in flight are failed and their
users told to resend; they are listed first when the HTTP API is enabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		pid, err := daemonPID(cfg)
		if err != nil {
			return err
		}
		warnInFlight(cfg, "Stopping")
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return fmt.Errorf("send SIGTERM: %w", err)
		}

		wait, _ := cmd.Flags().GetDuration("wait")
		if wait <= 0 {
			fmt.Fprintf(os.Stdout, "Sent SIGTERM to daemon (PID %d).\n", pid)
			return nil
		}
		gone := waitFor(wait, func() bool {
			_, err := os.Stat(cfg.PIDFile())
			return errors.Is(err, os.ErrNotExist)
		})
		if !gone {
			return fmt.Errorf("daemon (PID %d) still running after %s", pid, wait)
		}
		fmt.Fprintf(os.Stdout, "Daemon stopped (PID %d).\n", pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon",
	Long: `Restart the running daemon in place. The new process rereads the config
file; sessions in flight are failed as with stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		pid, err := daemonPID(cfg)
		if err != nil {
			return err
		}
		warnInFlight(cfg, "Restarting")
		if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
			return fmt.Errorf("send SIGHUP: %w", err)
		}

		wait, _ := cmd.Flags().GetDuration("wait")
		if wait <= 0 || !cfg.HTTP.Enabled {
			fmt.Fprintf(os.Stdout, "Sent SIGHUP to daemon (PID %d) for restart.\n", pid)
			return nil
		}
		// The API goes down while the process re-execs, then comes back.
		waitFor(5*time.Second, func() bool { return !healthy(cfg) })
		if !waitFor(wait, func() bool { return healthy(cfg) }) {
			return fmt.Errorf("daemon did not come back within %s", wait)
		}
		fmt.Fprintf(os.Stdout, "Daemon restarted (PID %d).\n", pid)
		return nil
	},
}
