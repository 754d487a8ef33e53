package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrlecko/truth-capsules-sub001/internal/compose"
)

var (
	composeProfile      string
	composeBundles      []string
	composeCapsules     []string
	composeCompact      bool
	composeControlTable bool
	composeOut          string
	composeManifestPath string
)

// composeCmd renders a profile into a system prompt
var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Compose a system prompt from a profile",
	Long: `Resolves a profile (by id or alias), gathers its bundles plus any
explicit capsules, and renders the deterministic prompt text.

The same store content and the same selection always produce
byte-identical output and an identical composition digest.

Example:
  truthcaps compose --profile conversational --bundle core --manifest manifest.json`,
	RunE: runCompose,
}

func runCompose(cmd *cobra.Command, args []string) error {
	s, report, err := loadStore()
	if err != nil {
		return err
	}
	if n := report.ErrorCount(); n > 0 {
		logger.Warn("store has quarantined records", zap.Int("errors", n))
	}

	policy := compose.IncompatibilityPolicy(cfg.Compose.Incompatibility)
	result, err := compose.New(s).Compose(compose.Request{
		Profile:         composeProfile,
		Bundles:         composeBundles,
		Capsules:        composeCapsules,
		Compact:         composeCompact,
		ControlTable:    composeControlTable || cfg.Compose.ControlTable,
		Incompatibility: policy,
	})
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if composeOut != "" {
		if err := os.WriteFile(composeOut, []byte(result.Prompt), 0644); err != nil {
			return fmt.Errorf("writing prompt: %w", err)
		}
	} else {
		fmt.Print(result.Prompt)
	}

	if composeManifestPath != "" {
		data, err := json.MarshalIndent(result.Manifest, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding manifest: %w", err)
		}
		if err := os.WriteFile(composeManifestPath, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
	}

	logger.Info("composed prompt",
		zap.String("profile", result.Manifest.ProfileID),
		zap.Int("capsules", len(result.Manifest.ResolvedCapsules)),
		zap.String("digest", result.Manifest.CompositionDigest))
	return nil
}

func init() {
	composeCmd.Flags().StringVarP(&composeProfile, "profile", "p", "", "Profile id or alias (required)")
	composeCmd.Flags().StringSliceVarP(&composeBundles, "bundle", "b", nil, "Bundle names to include, in order")
	composeCmd.Flags().StringSliceVarP(&composeCapsules, "capsule", "c", nil, "Explicit capsule ids, appended after bundles")
	composeCmd.Flags().BoolVar(&composeCompact, "compact", false, "Suppress pedagogy sections")
	composeCmd.Flags().BoolVar(&composeControlTable, "control-table", false, "Prepend the compiled priority table")
	composeCmd.Flags().StringVarP(&composeOut, "out", "o", "", "Write the prompt to a file instead of stdout")
	composeCmd.Flags().StringVar(&composeManifestPath, "manifest", "", "Write the composition manifest JSON to a file")
	_ = composeCmd.MarkFlagRequired("profile")
}
