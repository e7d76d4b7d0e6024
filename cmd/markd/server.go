package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

	"github.com/kalambet/markd/internal/api"
	"github.com/kalambet/markd/internal/backend"
	"github.com/kalambet/markd/internal/config"
	"github.com/kalambet/markd/internal/procedures"
	"github.com/kalambet/markd/internal/rpc"
	"github.com/kalambet/markd/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the markd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running markd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve the procedures as MCP tools on stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "markd.pid")
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

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// storeInit opens the database and builds the procedure router. The store is
// returned as the closer so the host releases it on shutdown.
func storeInit(dataDir string, logger *slog.Logger) backend.InitFunc {
	return func(ctx context.Context) (*rpc.Router, io.Closer, error) {
		store, err := storage.Open(ctx, dataDir, storage.Options{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		router, err := procedures.NewRouter(store)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return router, store, nil
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "markd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logs go to stderr; stdout belongs to the MCP transport when enabled.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(cfg.BaseURL() + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("markd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("markd is already running on %s", cfg.Addr())
		return fmt.Errorf("server already running on %s", cfg.Addr())
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The server accepts requests right away; they queue until the database
	// is ready.
	host := backend.New(storeInit(cfg.Storage.DataDir, logger), logger)
	host.Start(ctx)
	defer func() {
		if err := host.Close(); err != nil {
			slog.Warn("closing database", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewHandler(api.Deps{Host: host, Token: apiToken, Logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "markd listening on %s\n", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	if withMCP {
		go serveMCP(ctx, host)
	}

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

// serveMCP registers one tool per route once the router exists, then serves
// the stdio transport until ctx ends.
func serveMCP(ctx context.Context, host *backend.Host) {
	if err := host.Wait(ctx); err != nil {
		slog.Error("MCP server not started", "error", err)
		return
	}
	mcpSrv := api.NewMCPServer(version, host.Router().Routes(), host)
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("MCP stdio server error", "error", err)
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("markd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop markd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to markd (PID %d)", pid)
	return nil
}

type healthReport struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func fetchHealth(ctx context.Context, c *apiClient) (healthReport, int, error) {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return healthReport{}, 0, err
	}
	defer resp.Body.Close()
	var h healthReport
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return healthReport{}, resp.StatusCode, fmt.Errorf("decoding health: %w", err)
	}
	return h, resp.StatusCode, nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		printError("%v", err)
		return nil
	}
	client.httpClient.Timeout = 2 * time.Second

	h, code, err := fetchHealth(ctx, client)
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case code == http.StatusOK:
		printStatus("Server", "running on %s", cfg.Addr())
		printStatus("Database", "%s", h.Database)
	default:
		printStatus("Server", "error (HTTP %d)", code)
		printStatus("Database", "%s", h.Database)
	}

	if err == nil {
		var routes []rpc.RouteInfo
		if resp, rerr := client.get(ctx, "/routes"); rerr == nil && decodeJSON(resp, &routes) == nil {
			printStatus("Routes", "%d", len(routes))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
