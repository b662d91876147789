package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/config"
	"github.com/pendergraft/trustgate/internal/observability/metrics"
	"github.com/pendergraft/trustgate/internal/server"
	"github.com/pendergraft/trustgate/internal/storage"
	"github.com/pendergraft/trustgate/internal/validation"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "trustgate-server",
		Short:   "Trustgate server - token trust attestation registry",
		Version: version,
	}

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeysCmd())
	rootCmd.AddCommand(newCircuitCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	cmd.AddCommand(newKeysCreateCmd())
	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysRevokeCmd())

	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var name string
	var outputFile string
	var quiet bool
	var show bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create a new API key for submitting attestations.

By default, the key is written to a file in the current directory.
The key is only shown once - it cannot be retrieved later.

EXAMPLES:
  # Create key, write to file (default)
  trustgate-server keys create --name "vendor-acme"

  # Create key, write to specific file
  trustgate-server keys create --name "vendor-acme" --output /secure/path/key.txt

  # Create key, print only (for piping to secrets manager)
  trustgate-server keys create --name "vendor-acme" --quiet | gh secret set TRUSTGATE_API_KEY

  # Create key, display on screen
  trustgate-server keys create --name "vendor-acme" --show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysCreate(name, outputFile, quiet, show)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name/label for the key (required)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write key to file (default: ./trustgate-key-{name}.txt)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the key (for piping)")
	cmd.Flags().BoolVar(&show, "show", false, "display key on screen")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysList()
		},
	}
}

func newKeysRevokeCmd() *cobra.Command {
	var keyID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Long: `Revoke an API key to prevent further use.

Use 'trustgate-server keys list' to find the key ID.

EXAMPLES:
  trustgate-server keys revoke --id abc123
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysRevoke(keyID)
		},
	}

	cmd.Flags().StringVar(&keyID, "id", "", "key ID to revoke (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newCircuitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "circuit",
		Short: "Manage circuit key artifacts",
	}

	cmd.AddCommand(newCircuitSetupCmd())
	cmd.AddCommand(newCircuitExportCmd())

	return cmd
}

func newCircuitExportCmd() *cobra.Command {
	var keyVersion string
	var outDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored circuit keys to a directory",
		Long: `Export a stored key pair to files for distribution to vendors.

Writes proving.key, verifying.key and bounds.json to the output
directory. Vendors point the trustgate CLI at that directory to
generate proofs the server will accept.

EXAMPLES:
  trustgate-server circuit export --key-version v1.0.0 --out ./keys
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCircuitExport(keyVersion, outDir)
		},
	}

	cmd.Flags().StringVar(&keyVersion, "key-version", "", "version to export (default: the active version)")
	cmd.Flags().StringVar(&outDir, "out", "./keys", "output directory")

	return cmd
}

func newCircuitSetupCmd() *cobra.Command {
	var keyVersion string
	var activate bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the score circuit and store a versioned key pair",
		Long: `Compile the score circuit with the configured bounds, run the
trusted setup, and store the proving and verifying keys under a version.

Changing any circuit bound changes the constraint system, so bounds
changes require a new key version. All vendors must prove against the
same version the server verifies with.

EXAMPLES:
  trustgate-server circuit setup --key-version v1.0.0
  CIRCUIT_MAX_VOLUME=2000000000 trustgate-server circuit setup --key-version v1.1.0
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCircuitSetup(keyVersion, activate)
		},
	}

	cmd.Flags().StringVar(&keyVersion, "key-version", "", "version for the generated keys (default: CIRCUIT_KEY_VERSION)")
	cmd.Flags().BoolVar(&activate, "activate", true, "mark the generated keys as the active version")

	return cmd
}

// Key management commands

func runKeysCreate(name, outputFile string, quiet, show bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	// Ensure migrations are run
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Create the key
	key, err := store.CreateAPIKey(context.Background(), name)
	if err != nil {
		return fmt.Errorf("creating API key: %w", err)
	}

	// Handle output modes
	if quiet {
		// Just print the key for piping
		fmt.Println(key)
		return nil
	}

	if show {
		// Display on screen with warning
		fmt.Println("⚠️  API key (save this - it cannot be retrieved later):")
		fmt.Println()
		fmt.Println("   ", key)
		fmt.Println()
		return nil
	}

	// Default: write to file
	if outputFile == "" {
		outputFile = fmt.Sprintf("./trustgate-key-%s.txt", name)
	}

	// Create directory if needed
	dir := filepath.Dir(outputFile)
	if dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}

	// Write key to file with secure permissions
	if err := os.WriteFile(outputFile, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("writing key to file: %w", err)
	}

	fmt.Printf("✅ API key created: %s\n", name)
	fmt.Printf("   Written to: %s (mode 0600)\n", outputFile)
	fmt.Println()
	fmt.Println("   ⚠️  This key cannot be retrieved later. Keep it safe!")
	fmt.Println()
	fmt.Println("   Usage:")
	fmt.Println("     export TRUSTGATE_API_KEY=$(cat", outputFile+")")
	fmt.Println("     trustgate evaluate 0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")

	return nil
}

func runKeysList() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys found")
		fmt.Println()
		fmt.Println("Create one with: trustgate-server keys create --name \"my-key\"")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != "" {
			lastUsed = k.LastUsedAt
		}
		created := k.CreatedAt
		// Truncate ID for display
		idDisplay := k.ID
		if len(k.ID) > 8 {
			idDisplay = k.ID[:8] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", idDisplay, k.Name, created, lastUsed)
	}
	w.Flush()

	return nil
}

func runKeysRevoke(keyID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	// Find the full key ID if partial was provided
	keys, err := store.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	var fullKeyID string
	for _, k := range keys {
		if k.ID == keyID || (len(keyID) >= 8 && k.ID[:8] == keyID[:8]) {
			fullKeyID = k.ID
			break
		}
	}

	if fullKeyID == "" {
		return fmt.Errorf("key not found: %s", keyID)
	}

	if err := store.RevokeAPIKey(context.Background(), fullKeyID); err != nil {
		return fmt.Errorf("revoking API key: %w", err)
	}

	fmt.Printf("✅ API key revoked: %s\n", keyID)
	return nil
}

// Circuit commands

func runCircuitSetup(keyVersion string, activate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if keyVersion == "" {
		keyVersion = cfg.Circuit.KeyVersion
	}
	if err := validation.ValidateKeyVersion(keyVersion); err != nil {
		return fmt.Errorf("invalid key version: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	bounds := circuit.Bounds{
		MaxDaysAgo:     cfg.Circuit.MaxDaysAgo,
		MaxVolume:      cfg.Circuit.MaxVolume,
		MaxMarketCap:   cfg.Circuit.MaxMarketCap,
		MaxTotalSupply: cfg.Circuit.MaxTotalSupply,
	}

	fmt.Printf("Compiling score circuit (version %s)...\n", keyVersion)
	system, err := circuit.Compile(bounds)
	if err != nil {
		return fmt.Errorf("compiling circuit: %w", err)
	}

	fmt.Println("Running trusted setup...")
	pk, vk, err := system.Setup()
	if err != nil {
		return fmt.Errorf("circuit setup: %w", err)
	}

	pkBytes, err := circuit.MarshalProvingKey(pk)
	if err != nil {
		return fmt.Errorf("serializing proving key: %w", err)
	}
	vkBytes, err := circuit.MarshalVerifyingKey(vk)
	if err != nil {
		return fmt.Errorf("serializing verifying key: %w", err)
	}
	boundsJSON, err := json.Marshal(bounds)
	if err != nil {
		return fmt.Errorf("serializing bounds: %w", err)
	}

	if err := store.StoreCircuitKeys(context.Background(), &storage.CircuitKeys{
		Version:      keyVersion,
		Bounds:       string(boundsJSON),
		ProvingKey:   pkBytes,
		VerifyingKey: vkBytes,
		Active:       activate,
	}); err != nil {
		return fmt.Errorf("storing circuit keys: %w", err)
	}

	fmt.Printf("✅ Circuit keys stored: %s (active: %v)\n", keyVersion, activate)
	fmt.Printf("   Bounds: %s\n", boundsJSON)
	return nil
}

func runCircuitExport(keyVersion, outDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	var keys *storage.CircuitKeys
	if keyVersion == "" {
		keys, err = store.GetActiveCircuitKeys(context.Background())
	} else {
		keys, err = store.GetCircuitKeys(context.Background(), keyVersion)
	}
	if err != nil {
		return fmt.Errorf("reading circuit keys: %w", err)
	}

	if err := os.MkdirAll(outDir, 0700); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	files := map[string][]byte{
		"proving.key":   keys.ProvingKey,
		"verifying.key": keys.VerifyingKey,
		"bounds.json":   []byte(keys.Bounds),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(outDir, name), data, 0600); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	fmt.Printf("✅ Exported circuit keys %s to %s\n", keys.Version, outDir)
	return nil
}

// Server command

func runServe() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg)
	logger.Info("starting trustgate-server", "version", version)

	// Register Prometheus collectors before any request flows
	metrics.Init(cfg.Metrics.Enabled, "trustgate-server")

	// Initialize storage
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	// Run migrations
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Create server (loads or generates circuit keys)
	srv, err := server.New(context.Background(), cfg, store, logger)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}

	// Create HTTP server with configurable timeouts
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
