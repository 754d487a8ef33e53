package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrlecko/truth-capsules-sub001/internal/provenance"
)

var digestJSON bool

// digestCmd prints canonical content digests
var digestCmd = &cobra.Command{
	Use:   "digest [capsule-id...]",
	Short: "Print canonical content digests",
	Long: `Computes the SHA-256 digest of each capsule's canonical content form.
The digest covers normative content only: id, version, statement,
assumptions and pedagogy. Authorship, review state and signatures never
change it.

With no arguments, digests every capsule in the store.`,
	RunE: runDigest,
}

func runDigest(cmd *cobra.Command, args []string) error {
	s, _, err := loadStore()
	if err != nil {
		return err
	}

	ids := args
	if len(ids) == 0 {
		for _, c := range s.Capsules() {
			ids = append(ids, c.ID)
		}
	}

	type entry struct {
		ID     string `json:"id"`
		Digest string `json:"digest"`
	}
	var entries []entry
	for _, id := range ids {
		c, ok := s.Capsule(id)
		if !ok {
			return fmt.Errorf("unknown capsule: %s", id)
		}
		digest, err := provenance.ContentDigest(c)
		if err != nil {
			return fmt.Errorf("digesting %s: %w", id, err)
		}
		entries = append(entries, entry{ID: id, Digest: digest})
	}

	if digestJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for _, e := range entries {
		fmt.Printf("%s  %s\n", e.Digest, e.ID)
	}
	return nil
}

func init() {
	digestCmd.Flags().BoolVar(&digestJSON, "json", false, "Emit JSON")
}
