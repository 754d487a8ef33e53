package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mrlecko/truth-capsules-sub001/internal/config"
	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
	"github.com/mrlecko/truth-capsules-sub001/internal/store"
)

var (
	// Global flags
	verbose    bool
	rootDir    string
	configPath string
	strict     bool

	// Loaded configuration
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "truthcaps",
	Short: "truthcaps - composable truth capsules for LLM guidance",
	Long: `truthcaps manages a store of versioned guidance capsules and composes
them into deterministic system prompts.

Capsules are small YAML records carrying a normative statement, its
assumptions, and executable witnesses that check whether the guidance
held. Profiles and bundles select and order capsules; every composition
produces a manifest with a reproducible content digest.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("root") || cfg.Store.Root == "" {
			cfg.Store.Root = rootDir
		}
		if cmd.Flags().Changed("strict") {
			cfg.Store.Strict = strict
		}

		if err := logging.Initialize(cfg.Store.Root); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadStore loads the configured capsule tree and fails on hard lint errors.
func loadStore() (*store.Store, *store.LintReport, error) {
	s, report, err := store.Load(cfg.Store.Root, store.Options{Strict: cfg.Store.Strict})
	if err != nil {
		return nil, nil, err
	}
	return s, report, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", ".", "Capsule store root (holds capsules/, bundles/, profiles/)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "truthcaps.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "Escalate promotable lint warnings to errors")

	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(composeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(witnessCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
