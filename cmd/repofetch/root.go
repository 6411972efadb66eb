package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/repofetch/internal/config"
	"github.com/BadgerOps/repofetch/internal/journal"
	"github.com/BadgerOps/repofetch/internal/metrics"
)

var (
	// Global flags
	cfgPath   string
	envFile   string
	logLevel  string
	logFormat string
	globalCfg *config.Config
	logger    *slog.Logger
	lookupEnv = os.LookupEnv

	// Global components
	globalJournal *journal.Journal
)

// initializeComponents opens the acquisition journal when one is configured
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalCfg.Journal.DBPath == "" {
		return nil
	}

	j, err := journal.Open(globalCfg.Journal.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	globalJournal = j
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"show":    true,
		"url":     true,
		"mirrors": true,
	}
	return skipInitCmds[cmdName]
}

// closeJournal closes the global journal connection
func closeJournal() {
	if globalJournal != nil {
		if err := globalJournal.Close(); err != nil {
			logger.Error("failed to close journal", "error", err)
		}
		globalJournal = nil
	}
}

// writeMetrics exports collected metrics when a textfile path is configured
func writeMetrics() {
	if globalCfg == nil || globalCfg.Metrics.Textfile == "" {
		return
	}
	if err := metrics.WriteTextfile(globalCfg.Metrics.Textfile); err != nil {
		logger.Warn("failed to write metrics", "path", globalCfg.Metrics.Textfile, "error", err)
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repofetch",
		Short: "Fetch GitHub repository snapshots directly or through mirror proxies",
		Long: `repofetch downloads a repository archive at a branch, tag or commit and
unpacks it into a target directory. Downloads can be routed through a
mirror proxy that prefixes the origin URL; when several mirrors are
configured the fastest reachable one is selected automatically.`,
		Example: `  repofetch fetch actions/checkout --ref v4 --dest ./checkout
  repofetch fetch acme/widgets --proxy https://mirror.example
  REPOFETCH_AUTO_MIRROR=true repofetch fetch acme/widgets
  repofetch url acme/widgets --token "$REPOFETCH_TOKEN"
  repofetch mirrors
  repofetch history --limit 10`,
		Version:      "0.1.0",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if err := config.LoadDotenv(envFile); err != nil {
				logger.Warn("failed to load env file", "path", envFile, "error", err)
			}

			// Load config
			path := cfgPath
			if path == "" {
				var err error
				path, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if path != "" {
				var err error
				globalCfg, err = config.Load(path)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			globalCfg.ApplyEnv(lookupEnv)
			if err := globalCfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger.Debug("config loaded", "path", path, "server", globalCfg.GitHub.ServerURL)

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			writeMetrics()
			closeJournal()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	// Add subcommands
	cmd.AddCommand(
		newFetchCmd(),
		newURLCmd(),
		newMirrorsCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// parseRepoArg splits an OWNER/REPO argument.
func parseRepoArg(arg string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSuffix(arg, ".git"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("expected OWNER/REPO, got %q", arg)
	}
	return owner, repo, nil
}
