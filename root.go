package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/noteflow/syncd/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that resolve configuration
// themselves (none currently do, but the hook mirrors the layered
// config-loading structure the rest of the command tree follows).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved config and logger, built once in
// PersistentPreRunE so RunE handlers don't each re-load config.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
// Returns nil if none was loaded.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics. RunE handlers for
// commands that don't carry skipConfigAnnotation can rely on
// PersistentPreRunE having populated it already.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — PersistentPreRunE should have loaded it")
	}

	return cc
}

// newRootCmd builds the fully-assembled root command with every
// subcommand registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "syncd",
		Short:         "Multi-device markdown-journaling sync server",
		Long:          "syncd runs the CRDT sync server, snapshot/attachment REST API, and share-session WebSocket transport for a markdown-journaling workspace.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (also SYNCD_CONFIG)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show info-level logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "show debug-level logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress all but error-level logging")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newGCCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves the effective configuration (defaults → optional
// TOML file → environment overrides) and stores it, with a logger
// built from it, on the command's context.
func loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(cfg)
	cc := &CLIContext{Cfg: cfg, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger builds an slog.Logger from cfg.Logging, with --verbose,
// --debug, and --quiet overriding the configured level (CLI flags
// always win; Cobra enforces they're mutually exclusive).
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
