package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrlecko/truth-capsules-sub001/internal/provenance"
)

var (
	verifyStream          string
	verifyJSON            bool
	verifyRequireApproved bool
)

// verifyCmd checks capsule signatures
var verifyCmd = &cobra.Command{
	Use:   "verify [capsule-id...]",
	Short: "Verify capsule signatures",
	Long: `Verifies the embedded Ed25519 signing blocks of store capsules, or of
newline-delimited JSON records with --stream (use - for stdin).

Per-record status is ok, unsigned, content_tampered, invalid_signature
or error. With --require-signature-on-approved, an unsigned capsule
whose review state is approved counts as a policy failure.

Exit code is 1 when any record is tampered or invalid, or fails policy.`,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	var results []provenance.StreamResult
	var failed bool

	if verifyStream != "" {
		var in io.Reader
		if verifyStream == "-" {
			in = cmd.InOrStdin()
		} else {
			f, err := os.Open(verifyStream)
			if err != nil {
				return fmt.Errorf("opening stream: %w", err)
			}
			defer f.Close()
			in = f
		}
		var err error
		results, err = provenance.VerifyStream(in)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Status != "ok" && r.Status != "unsigned" {
				failed = true
			}
		}
	} else {
		s, _, err := loadStore()
		if err != nil {
			return err
		}
		targets := s.Capsules()
		if len(args) > 0 {
			targets = targets[:0]
			for _, id := range args {
				c, ok := s.Capsule(id)
				if !ok {
					return fmt.Errorf("unknown capsule: %s", id)
				}
				targets = append(targets, c)
			}
		}
		// PolicyCheck returns violations only; a clean tree yields no results.
		results = provenance.PolicyCheck(targets, verifyRequireApproved)
		failed = len(results) > 0
	}

	if verifyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else if len(results) == 0 {
		fmt.Println("ok")
	} else {
		for _, r := range results {
			detail := ""
			if r.Detail != "" {
				detail = "  " + r.Detail
			}
			fmt.Printf("%-40s %s%s\n", r.ID, r.Status, detail)
		}
	}

	if failed {
		os.Exit(1)
	}
	return nil
}

func init() {
	verifyCmd.Flags().StringVar(&verifyStream, "stream", "", "Verify NDJSON capsule records from a file (- for stdin)")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Emit JSON results")
	verifyCmd.Flags().BoolVar(&verifyRequireApproved, "require-signature-on-approved", false, "Treat unsigned approved capsules as failures")
}
