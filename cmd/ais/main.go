package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Zuo-Peng/ai-session-graph/internal/config"
)

var version = "dev"

var (
	logger  *zap.Logger
	verbose bool
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ais",
		Short: "AI Session Graph - reconstruct and classify Claude Code conversation logs",
		Long: `ais rebuilds the conversation graph behind Claude Code session logs:
continuations across files, compaction boundaries, delegated sub-agent
threads, partial-save snapshots and templated SDK runs. Each project gets a
manifest with one classified row per session and an explicit edge table.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.config/ais/config.toml)")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(openCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(doctorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Load()
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return config.LoadFile(cfgFile, home)
}
