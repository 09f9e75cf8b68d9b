package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(entriesCmd)
	entriesCmd.AddCommand(entriesListCmd)

	entriesListCmd.Flags().Int("limit", 20, "number of entries to show")
}

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "Browse the knowledge store",
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Shutdown()

		entries, err := store.List(ctx, limit)
		if err != nil {
			return fmt.Errorf("list entries: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No entries stored.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tCATEGORY\tTITLE\tSOURCE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				e.CreatedAt.Format("2006-01-02 15:04"),
				e.Category,
				e.Title,
				e.SourceURL,
			)
		}
		return w.Flush()
	},
}
