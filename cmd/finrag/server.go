package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/finrag/internal/api"
	"github.com/kalambet/finrag/internal/config"
	"github.com/kalambet/finrag/internal/ingest"
	"github.com/kalambet/finrag/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the finrag server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running finrag server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show finrag server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP over stdin/stdout")
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "finrag.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "finrag version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	apiToken, err := config.GetAPIToken(config.NewKeychain(cfg.Storage.DataDir))
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("finrag is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("finrag is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := openLocal(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	if n, err := app.store.RequeueRunningJobs(); err != nil {
		slog.Warn("requeueing interrupted jobs failed", "error", err)
	} else if n > 0 {
		slog.Info("requeued interrupted jobs", "count", n)
	}

	// A broken corpus must not keep the server down; a rebuild job can fix it.
	if _, err := app.assistant.Initialize(ctx, app.source, false); err != nil {
		slog.Warn("initial index build failed, serving without data", "source", app.source.String(), "error", err)
	}

	worker := ingest.NewWorker(app.store, app.assistant, app.source, 500*time.Millisecond)
	go worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Assistant: app.assistant,
		Store:     app.store,
		Engine:    app.engine,
		Token:     apiToken,
		CorpusDir: filepath.Dir(cfg.Corpus.Path),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Assistant: app.assistant, Store: app.store})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "finrag listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("finrag is not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop finrag (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to finrag (PID %d)", pid)
	return nil
}

type healthBody struct {
	Status        string          `json:"status"`
	Assistant     pipeline.Status `json:"assistant"`
	EngineRunning *bool           `json:"engine_running,omitempty"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var h healthBody
		decodeErr := json.NewDecoder(resp.Body).Decode(&h)
		resp.Body.Close()
		switch {
		case decodeErr != nil:
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		case resp.StatusCode == http.StatusOK:
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printAssistantStatus(h)
		default:
			printStatus("Server", "%s (HTTP %d)", h.Status, resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", cfg.Embedding.Provider)
	printStatus("Embed model", "%s", embedModel(cfg))
	printStatus("Corpus", "%s", cfg.Corpus.Path)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printAssistantStatus(h healthBody) {
	st := h.Assistant
	if h.EngineRunning != nil && !*h.EngineRunning {
		printStatus("Engine", "not running")
	}
	printStatus("Source", "%s", st.Source)
	printStatus("Records", "%d invoices, %d income", st.Expenses, st.Incomes)
	printStatus("Chunks", "%d (%s)", st.Chunks, st.Model)
	if !st.BuiltAt.IsZero() {
		printStatus("Built", "%s", st.BuiltAt.Local().Format(time.DateTime))
	}
}
