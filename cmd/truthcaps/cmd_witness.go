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

	"github.com/mrlecko/truth-capsules-sub001/internal/archive"
	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/sandbox"
	"github.com/mrlecko/truth-capsules-sub001/internal/witness"
)

var (
	witnessCapsules []string
	witnessJSON     bool
	witnessSandbox  string
	witnessImage    string
	witnessEnvFile  string
	witnessArchive  string
)

// witnessCmd executes capsule witnesses and reports receipts
var witnessCmd = &cobra.Command{
	Use:   "witness",
	Short: "Run capsule witnesses and report receipts",
	Long: `Executes the witness checks declared on capsules. Each witness must
print exactly one JSON object carrying a "status" of PASS, FAIL or SKIP.
A broken witness (timeout, missing interpreter, malformed output) is an
infrastructure error, never a FAIL.

Exit codes: 0 all PASS/SKIP, 1 any FAIL, 2 infrastructure errors present.

Example:
  truthcaps witness --capsule llm.citation_v1 --sandbox container`,
	RunE: runWitnesses,
}

func runWitnesses(cmd *cobra.Command, args []string) error {
	s, _, err := loadStore()
	if err != nil {
		return err
	}

	var targets []*capsule.Capsule
	if len(witnessCapsules) == 0 {
		targets = s.Capsules()
	} else {
		for _, id := range witnessCapsules {
			c, ok := s.Capsule(id)
			if !ok {
				return fmt.Errorf("unknown capsule: %s", id)
			}
			targets = append(targets, c)
		}
	}

	runnerCfg := witness.Config{
		DefaultTimeoutMs: cfg.WitnessTimeout().Milliseconds(),
		Parallelism:      cfg.Witness.Parallelism,
	}

	mode := witnessSandbox
	if mode == "" {
		mode = cfg.Sandbox.Mode
	}
	if mode == "container" {
		engine := sandbox.NewContainerExecutor()
		if !engine.IsAvailable() {
			return fmt.Errorf("container sandbox requested but no engine found (docker or podman)")
		}
		image := witnessImage
		if image == "" {
			image = cfg.Sandbox.Image
		}
		runnerCfg.Executor = engine
		runnerCfg.Policy = &sandbox.Policy{
			Mode:            sandbox.ModeContainer,
			Image:           image,
			ReadOnlyRoot:    true,
			NoNewPrivileges: true,
			EnvFile:         witnessEnvFile,
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report := witness.New(s, runnerCfg).Run(ctx, targets)

	if path := archivePath(); path != "" {
		if err := storeReport(ctx, path, report); err != nil {
			logger.Warn("could not archive receipts", zap.Error(err))
		}
	}

	if witnessJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		printReport(report)
	}

	os.Exit(report.ExitCode())
	return nil
}

func printReport(report *witness.RunReport) {
	for _, cr := range report.Capsules {
		fmt.Printf("%-40s %s\n", cr.CapsuleID, cr.Status)
		for _, wr := range cr.WitnessResults {
			line := fmt.Sprintf("  %-36s %-4s %4dms", wr.WitnessName, wr.Status, wr.DurationMs)
			if wr.InfraError != "" {
				line += "  infra: " + wr.InfraError
			}
			fmt.Println(line)
		}
	}
}

func archivePath() string {
	if witnessArchive != "" {
		return witnessArchive
	}
	if cfg.Archive.Enabled {
		return cfg.Archive.Path
	}
	return ""
}

func storeReport(ctx context.Context, path string, report *witness.RunReport) error {
	a, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.StoreRun(ctx, report)
}

// historyCmd queries the receipt archive
var historyCmd = &cobra.Command{
	Use:   "history [capsule-id]",
	Short: "Show archived witness runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var historyLimit int

func runHistory(cmd *cobra.Command, args []string) error {
	path := archivePath()
	if path == "" {
		return fmt.Errorf("no archive configured (set archive.path or --archive)")
	}
	a, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) == 1 {
		receipts, err := a.CapsuleHistory(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		for _, cr := range receipts {
			fmt.Printf("%-40s %s\n", cr.CapsuleID, cr.Status)
		}
		return nil
	}

	runs, err := a.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%-38s %s  exit=%d  capsules=%d\n", r.RunID, r.StartedAt, r.ExitCode, r.Capsules)
	}
	return nil
}

func init() {
	witnessCmd.Flags().StringSliceVarP(&witnessCapsules, "capsule", "c", nil, "Capsule ids to check (default: all)")
	witnessCmd.Flags().BoolVar(&witnessJSON, "json", false, "Emit the run report as JSON")
	witnessCmd.Flags().StringVar(&witnessSandbox, "sandbox", "", "Sandbox mode: none or container (default: config)")
	witnessCmd.Flags().StringVar(&witnessImage, "image", "", "Container image for the sandbox")
	witnessCmd.Flags().StringVar(&witnessEnvFile, "env-file", "", "Extra environment file for sandboxed witnesses")
	witnessCmd.Flags().StringVar(&witnessArchive, "archive", "", "SQLite receipt archive path")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show")
	historyCmd.Flags().StringVar(&witnessArchive, "archive", "", "SQLite receipt archive path")
}
