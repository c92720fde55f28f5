package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pageexplorer/internal/config"
	"pageexplorer/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pageexplorer",
	Short: "Drive a running browser through a page exploration sequence",
	Long: `pageexplorer attaches to a browser that is already running with remote
debugging enabled, optionally loads a URL, and replays an instruction
sequence against the page: waits, key presses, scripts and element
lookups. It is meant to shake pages into exercising as much browser
code as possible.

Run "pageexplorer instructions" to print the default sequence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(cfg.Logging.ToLogging()); err != nil {
			return err
		}
		logging.BootDebug("config loaded from %s", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pageexplorer.yaml", "Config file (defaults apply when missing)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall run timeout")

	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(instructionsCmd)
	rootCmd.AddCommand(configCmd)
}

// execute runs the root command. Teardown is deferred because cobra skips
// post-run hooks when a command fails.
func execute() error {
	defer teardown()
	return rootCmd.Execute()
}

func teardown() {
	if logger != nil {
		_ = logger.Sync()
		logger = nil
	}
	logging.CloseAll()
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
