package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrlecko/truth-capsules-sub001/internal/store"
)

var (
	lintJSON  bool
	lintWatch bool
)

// lintCmd validates every record in the capsule tree
var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate capsules, bundles and profiles",
	Long: `Loads the full capsule tree and reports schema and hygiene findings.

Records with hard errors are quarantined: they are reported but never
enter composition. Warnings never block. Under --strict, promotable
warnings (unicode escape artifacts, unreviewed capsules) become errors.

Exit code is 0 when the tree is clean and 1 when any hard error exists.`,
	RunE: runLint,
}

func runLint(cmd *cobra.Command, args []string) error {
	if lintWatch {
		return runLintWatch(cmd)
	}

	_, report, err := loadStore()
	if err != nil {
		return err
	}
	printLintReport(report)
	if report.ErrorCount() > 0 {
		os.Exit(1)
	}
	return nil
}

func runLintWatch(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("watching capsule tree", zap.String("root", cfg.Store.Root))
	return store.Watch(ctx, cfg.Store.Root, store.Options{Strict: cfg.Store.Strict},
		func(s *store.Store, report *store.LintReport) {
			fmt.Printf("--- reload: %d capsules, %d errors, %d warnings ---\n",
				len(s.Capsules()), report.ErrorCount(), report.WarningCount())
			printLintReport(report)
		})
}

func printLintReport(report *store.LintReport) {
	if lintJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}

	for _, item := range report.Items {
		if len(item.Errors) == 0 && len(item.Warnings) == 0 {
			continue
		}
		name := item.File
		if item.ID != "" {
			name = fmt.Sprintf("%s (%s)", item.File, item.ID)
		}
		fmt.Println(name)
		for _, issue := range item.Errors {
			fmt.Printf("  error: %s\n", issue)
		}
		for _, issue := range item.Warnings {
			fmt.Printf("  warning: %s\n", issue)
		}
	}
	fmt.Printf("%d errors, %d warnings\n", report.ErrorCount(), report.WarningCount())
}

func init() {
	lintCmd.Flags().BoolVar(&lintJSON, "json", false, "Emit the lint report as JSON")
	lintCmd.Flags().BoolVar(&lintWatch, "watch", false, "Re-lint on file changes until interrupted")
}
