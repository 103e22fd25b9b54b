package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/kidsworld/internal/api"
	"github.com/kalambet/kidsworld/internal/config"
	"github.com/kalambet/kidsworld/internal/engine"
	"github.com/kalambet/kidsworld/internal/pipeline"
	"github.com/kalambet/kidsworld/internal/profile"
	"github.com/kalambet/kidsworld/internal/retry"
	"github.com/kalambet/kidsworld/internal/storage"
	"github.com/kalambet/kidsworld/internal/vocab"
	"github.com/kalambet/kidsworld/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the kidsworld server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		skipCheck, _ := cmd.Flags().GetBool("skip-model-check")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(skipCheck, withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running kidsworld server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kidsworld system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("skip-model-check", false, "do not probe the configured models before starting")
	startCmd.Flags().Bool("mcp", true, "serve MCP tools on stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "kidsworld.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pipelineConfig maps configuration onto the orchestrator settings.
func pipelineConfig(cfg config.Config, logger *slog.Logger) pipeline.Config {
	return pipeline.Config{
		TextModel:   cfg.Gemini.TextModel,
		ImageModel:  cfg.Gemini.ImageModel,
		EditModel:   cfg.Gemini.EditModel,
		SpeechModel: cfg.Gemini.SpeechModel,
		Voice:       cfg.Gemini.Voice,
		Retry:       retry.NewPolicy(cfg.Retry.Retries, cfg.Retry.BaseDelay, retry.WithLogger(logger)),
	}
}

func runServer(skipModelCheck, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "kidsworld version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	// Refuse to start twice. The health endpoint answers without a token.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("kidsworld is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("kidsworld is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gemini, err := engine.NewGemini(ctx, engine.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating gemini engine: %w", err)
	}
	if !skipModelCheck {
		if err := engine.EnsureReady(ctx, gemini, cfg.Gemini.Models(), os.Stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	profileMgr := profile.NewManager(store)
	vocabStore := vocab.New(store, vocab.WithLogger(logger))
	orch := pipeline.New(gemini, pipelineConfig(cfg, logger))

	// Generations run on the worker under the process lifetime, never under
	// a request context.
	w := worker.NewWorker(store, orch, profileMgr, vocabStore, worker.Options{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		Logger:       logger,
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Adviser: orch,
			Profile: profileMgr,
			Vocab:   vocabStore,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAppHandler(api.AppDeps{
			Store:   store,
			Profile: profileMgr,
			Vocab:   vocabStore,
			Token:   cfg.Server.Token,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "kidsworld listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	// In-flight generations stay claimed and are requeued on the next start.
	wg.Wait()

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

func stopServer() error {
	cfg, err := config.LoadClient()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("kidsworld is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop kidsworld (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to kidsworld (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.LoadClient()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := httpClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Gemini.APIKey == "" {
		printStatus("Gemini", "API key not configured")
	} else {
		printStatus("Gemini", "API key configured")
	}
	printStatus("Text model", "%s", cfg.Gemini.TextModel)
	printStatus("Image model", "%s", cfg.Gemini.ImageModel)
	printStatus("Edit model", "%s", cfg.Gemini.EditModel)
	printStatus("Speech model", "%s (voice %s)", cfg.Gemini.SpeechModel, cfg.Gemini.Voice)

	if running {
		client := &apiClient{baseURL: serverURL + "/v1", token: cfg.Server.Token, httpClient: httpClient}
		if n, err := countGenerations(ctx, client, "generating"); err == nil {
			printStatus("In progress", "%s", countLabel(n, statusListLimit))
		}
		var items []vocab.Item
		if resp, err := client.get(ctx, "/vocab"); err == nil && decodeJSON(resp, &items) == nil {
			printStatus("Saved vocab", "%d/%d", len(items), vocab.MaxItems)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

const statusListLimit = 100

func countGenerations(ctx context.Context, client *apiClient, status string) (int, error) {
	resp, err := client.get(ctx, fmt.Sprintf("/generations?limit=%d", statusListLimit))
	if err != nil {
		return 0, err
	}
	var gens []api.GenerationView
	if err := decodeJSON(resp, &gens); err != nil {
		return 0, err
	}
	n := 0
	for _, g := range gens {
		if g.Status == status {
			n++
		}
	}
	return n, nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
