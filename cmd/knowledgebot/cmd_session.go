package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/knowledgebot/internal/state"
	"github.com/user/knowledgebot/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionHistoryCmd, sessionClearCmd)

	sessionHistoryCmd.Flags().Int("limit", 50, "number of transitions to show")
}

func journal() *state.Journal {
	cfg := loadConfig()
	return state.NewJournal(cfg.JournalDir())
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect session transition journals",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users with a journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := journal().Files()
		if err != nil {
			return fmt.Errorf("list journals: %w", err)
		}
		if len(files) == 0 {
			fmt.Println("No journals found.")
			return nil
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	},
}

var sessionHistoryCmd = &cobra.Command{
	Use:   "history <user>",
	Short: "Show a user's stage transitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		transitions, err := journal().History(context.Background(), types.UserID(args[0]), limit)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		if len(transitions) == 0 {
			fmt.Printf("No transitions recorded for %s.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tRUN\tFROM\tTO\tATTEMPTS\tNOTE")
		for _, t := range transitions {
			from := string(t.From)
			if from == "" {
				from = "-"
			}
			attempts := ""
			if t.Attempts > 0 {
				attempts = strconv.Itoa(t.Attempts)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.At.Format("2006-01-02 15:04:05"),
				shortID(string(t.RunID)),
				from,
				t.To,
				attempts,
				t.Note,
			)
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <user|all>",
	Short: "Delete a user's journal, or all journals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j := journal()
		if args[0] == "all" {
			n, err := j.ClearAll()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Cleared %d journals.\n", n)
			return nil
		}
		if err := j.Clear(types.UserID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Journal for %s cleared.\n", args[0])
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
