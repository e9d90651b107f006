package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/finrag/internal/config"
	"github.com/kalambet/finrag/internal/corpus"
	"github.com/kalambet/finrag/internal/engine"
	"github.com/kalambet/finrag/internal/ledger"
	"github.com/kalambet/finrag/internal/pipeline"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/storage"
)

// localApp is the assistant wired against local storage and the configured
// embedding backend.
type localApp struct {
	cfg       config.Config
	engine    engine.Engine
	store     *storage.Store
	cache     *retrieval.IndexCache
	assistant *pipeline.Assistant
	source    corpus.Source
}

// embedModel returns the model name to embed with. The hash provider only
// knows its own model.
func embedModel(cfg config.Config) string {
	if cfg.Embedding.Provider == engine.ProviderHash {
		return engine.HashModel
	}
	return cfg.Embedding.Model
}

func newParser(cfg config.Config) (*ledger.Parser, error) {
	if cfg.Ledger.CategoriesPath == "" {
		return ledger.NewParser(ledger.DefaultCategorizer()), nil
	}
	c, err := ledger.LoadCategories(cfg.Ledger.CategoriesPath)
	if err != nil {
		return nil, err
	}
	return ledger.NewParser(c), nil
}

// openLocal checks the embedding backend, opens storage and builds an
// uninitialized assistant. Progress of model pulls goes to progress.
func openLocal(ctx context.Context, cfg config.Config, progress io.Writer) (*localApp, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Provider:       cfg.Embedding.Provider,
		OllamaBaseURL:  cfg.Ollama.BaseURL,
		HashDimensions: cfg.Embedding.HashDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting embedding engine: %w", err)
	}
	model := embedModel(cfg)
	if err := engine.EnsureReady(ctx, eng, model, progress); err != nil {
		return nil, err
	}

	parser, err := newParser(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	cache := retrieval.NewIndexCache(store.DB())
	a := pipeline.New(retrieval.NewEmbedder(eng, model), cache, pipeline.Config{
		TopK:      cfg.Retrieval.TopK,
		Threshold: float32(cfg.Retrieval.Threshold),
		Parser:    parser,
	})

	return &localApp{
		cfg:       cfg,
		engine:    eng,
		store:     store,
		cache:     cache,
		assistant: a,
		source:    corpus.File{Path: cfg.Corpus.Path},
	}, nil
}

func (l *localApp) Close() {
	if err := l.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// loadLocal is the common prologue of the local commands: config, logging,
// then a ready assistant.
func loadLocal(ctx context.Context) (*localApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)

	app, err := openLocal(ctx, cfg, io.Discard)
	if err != nil {
		return nil, err
	}
	if _, err := app.assistant.Initialize(ctx, app.source, false); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func boundaryMessage(err error) string {
	return fmt.Sprintf("I encountered an issue processing your financial query: %v. Please try again.", err)
}

// askOnce answers one question, prints it to w and records it.
func askOnce(ctx context.Context, app *localApp, query string, asJSON bool, w io.Writer) error {
	start := time.Now()
	in, res, err := app.assistant.Ask(ctx, query)
	if err != nil {
		if errors.Is(err, pipeline.ErrExitRequested) {
			return err
		}
		slog.Warn("answering query failed", "query", query, "error", err)
		fmt.Fprintln(w, boundaryMessage(err))
		return nil
	}

	routed := in.Query
	if routed == "" {
		routed = string(in.Type)
	}
	ix := storage.Interaction{
		ID:          uuid.New().String(),
		Source:      "cli",
		Query:       query,
		RoutedQuery: routed,
		Answer:      res.Text,
		Reason:      string(res.Reason),
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	if err := app.store.SaveInteraction(ix); err != nil {
		slog.Warn("failed to save interaction", "error", err)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"answer": res.Text,
			"reason": res.Reason,
			"intent": in,
		})
	}
	fmt.Fprintln(w, res.Text)
	return nil
}

// runChat reads questions line by line until EOF or an exit phrase.
func runChat(ctx context.Context, app *localApp, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			err := askOnce(ctx, app, line, false, out)
			if errors.Is(err, pipeline.ErrExitRequested) {
				fmt.Fprintln(out, "Goodbye.")
				return nil
			}
			if err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(out, "> ")
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

// rebuildIndex drops the cached index, re-embeds the corpus and optionally
// writes the index file. A failed rebuild leaves no cache behind, so the next
// start re-reads the corpus instead of serving the old index.
func rebuildIndex(ctx context.Context, app *localApp, output string) (*retrieval.Index, error) {
	if err := app.cache.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clearing cached index: %w", err)
	}
	idx, err := app.assistant.Initialize(ctx, app.source, true)
	if err != nil {
		return nil, err
	}
	if output == "" {
		return idx, nil
	}
	data, err := idx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding index: %w", err)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing index: %w", err)
	}
	return idx, nil
}

// waitForJob polls a queued rebuild until it completes or fails for good.
// A failed attempt that will be retried still reads as pending.
func waitForJob(ctx context.Context, client *apiClient, jobID string, interval time.Duration) (storage.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := client.rebuildStatus(ctx, jobID)
		if err != nil {
			return job, err
		}
		if job.Status == "completed" || job.Status == "failed" {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func inspectIndex(path string, showChunks bool, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}
	idx, err := retrieval.UnmarshalIndex(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "model:       %s\n", idx.Header.Model)
	fmt.Fprintf(w, "dimensions:  %d\n", idx.Header.Dimensions)
	fmt.Fprintf(w, "chunks:      %d\n", idx.Len())
	fmt.Fprintf(w, "corpus hash: %s\n", idx.Header.CorpusHash)
	fmt.Fprintf(w, "built at:    %s\n", idx.Header.BuiltAt.Format(time.RFC3339))
	if showChunks {
		for i, c := range idx.Chunks {
			fmt.Fprintf(w, "%4d  %s\n", i, c)
		}
	}
	return nil
}

// writeSnapshot parses src and writes the structured export. No embedding
// backend is needed.
func writeSnapshot(ctx context.Context, parser *ledger.Parser, src corpus.Source, w io.Writer) error {
	raw, err := src.Load(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(corpus.BuildSnapshot(parser.Parse(raw)))
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question using the local index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		app, err := loadLocal(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		err = askOnce(cmd.Context(), app, strings.Join(args, " "), asJSON, cmd.OutOrStdout())
		if errors.Is(err, pipeline.ErrExitRequested) {
			return nil
		}
		return err
	},
}

func init() {
	askCmd.Flags().Bool("json", false, "print answer, reason and routed intent as JSON")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question loop; type quit to leave",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadLocal(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		st := app.assistant.Status()
		printStep("Loaded %d invoices and %d income entries from %s", st.Expenses, st.Incomes, st.Source)
		return runChat(cmd.Context(), app, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or inspect the embedding index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-read the corpus and rebuild the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		remote, _ := cmd.Flags().GetBool("remote")
		wait, _ := cmd.Flags().GetBool("wait")
		path, _ := cmd.Flags().GetString("corpus")

		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			jobID, err := client.rebuild(cmd.Context(), path)
			if err != nil {
				return err
			}
			printSuccess("Queued rebuild job %s", jobID)
			if !wait {
				return nil
			}
			job, err := waitForJob(cmd.Context(), client, jobID, time.Second)
			if err != nil {
				return err
			}
			if job.Status == "failed" {
				return fmt.Errorf("rebuild job %s failed: %s", shortID(job.ID), job.LastError)
			}
			printSuccess("Rebuild job %s completed", shortID(job.ID))
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		if path != "" {
			cfg.Corpus.Path = path
		}

		app, err := openLocal(cmd.Context(), cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer app.Close()

		idx, err := rebuildIndex(cmd.Context(), app, output)
		if err != nil {
			return err
		}
		printSuccess("Indexed %d chunks with %s", idx.Len(), idx.Header.Model)
		if output != "" {
			printSuccess("Index written to %s", output)
		}
		return nil
	},
}

var indexInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print the header of an index file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showChunks, _ := cmd.Flags().GetBool("chunks")
		return inspectIndex(args[0], showChunks, cmd.OutOrStdout())
	},
}

func init() {
	indexRebuildCmd.Flags().String("output", "", "also write the index to this file")
	indexRebuildCmd.Flags().String("corpus", "", "corpus file to index (default: corpus.path)")
	indexRebuildCmd.Flags().Bool("remote", false, "queue the rebuild on the running server instead")
	indexRebuildCmd.Flags().Bool("wait", false, "with --remote, wait for the job to finish")
	indexInspectCmd.Flags().Bool("chunks", false, "list every chunk")
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexInspectCmd)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export parsed invoices, income and totals as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		path, _ := cmd.Flags().GetString("corpus")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if path == "" {
			path = cfg.Corpus.Path
		}
		parser, err := newParser(cfg)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if err := writeSnapshot(cmd.Context(), parser, corpus.File{Path: path}, w); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Snapshot exported to %s", output)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
	exportCmd.Flags().String("corpus", "", "corpus file to export (default: corpus.path)")
}
