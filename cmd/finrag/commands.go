package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/finrag/internal/config"
)

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Show the chunks the running server retrieves for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return recall(cmd.Context(), client, strings.Join(args, " "), limit, cmd.OutOrStdout())
	},
}

func init() {
	recallCmd.Flags().Int("limit", 5, "maximum number of chunks")
}

func recall(ctx context.Context, client *apiClient, query string, limit int, w io.Writer) error {
	results, err := client.recall(ctx, query, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(w, "%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score)
		fmt.Fprintf(w, "  %s\n", r.Text)
	}
	return nil
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Browse or prune answered questions",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listInteractions(cmd.Context(), client, limit, cmd.OutOrStdout())
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ix, err := client.interaction(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ix)
	},
}

var interactionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete interactions older than a given age",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := client.pruneInteractions(cmd.Context(), time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		printSuccess("Deleted %d interactions", n)
		return nil
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete interactions older than this")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
	interactionsCmd.AddCommand(interactionsPruneCmd)
}

func listInteractions(ctx context.Context, client *apiClient, limit int, w io.Writer) error {
	interactions, err := client.interactions(ctx, limit)
	if err != nil {
		return err
	}
	if len(interactions) == 0 {
		fmt.Fprintln(w, "No interactions found.")
		return nil
	}

	for _, ix := range interactions {
		query := ix.Query
		if len(query) > 80 {
			query = query[:80] + "..."
		}
		fmt.Fprintf(w, "%s  %s  %-6s %s\n",
			colorize(colorCyan, shortID(ix.ID)),
			ix.CreatedAt.Local().Format(time.DateTime),
			ix.Source,
			query,
		)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
