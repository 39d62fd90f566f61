package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torva/torva/internal/config"
	"github.com/torva/torva/internal/storage"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "torva",
	Short:         "Customer support data store with named access procedures",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(rpcCmd)
	rootCmd.AddCommand(customerCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		stop()
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler on stderr.
func setupLogging(cfg config.LogConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.JSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// openStore opens the configured store, applying pending migrations.
func openStore(ctx context.Context, cfg config.Config) (*storage.Store, error) {
	reg, err := storage.NewRegistry(cfg.Storage.TablePrefix)
	if err != nil {
		return nil, fmt.Errorf("building schema registry: %w", err)
	}
	store, err := storage.Open(ctx, storage.Options{
		Driver:   cfg.Storage.Driver,
		DataDir:  cfg.Storage.DataDir,
		DSN:      cfg.Storage.DSN,
		Registry: reg,
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// loadConfig loads the configuration and installs the logger it describes.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}
