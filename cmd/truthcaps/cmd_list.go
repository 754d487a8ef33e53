package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var listJSON bool

// listCmd enumerates store contents
var listCmd = &cobra.Command{
	Use:       "list [capsules|bundles|profiles]",
	Short:     "List store contents",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"capsules", "bundles", "profiles"},
	RunE:      runList,
}

func runList(cmd *cobra.Command, args []string) error {
	s, _, err := loadStore()
	if err != nil {
		return err
	}

	switch args[0] {
	case "capsules":
		if listJSON {
			return emitJSON(s.Capsules())
		}
		for _, c := range s.Capsules() {
			fmt.Printf("%-40s v%-8s %s\n", c.ID, c.Version, c.Title)
		}
	case "bundles":
		if listJSON {
			return emitJSON(s.Bundles())
		}
		for _, b := range s.Bundles() {
			fmt.Printf("%-24s v%-8s %d capsules\n", b.Name, b.Version, len(b.Capsules))
		}
	case "profiles":
		if listJSON {
			return emitJSON(s.Profiles())
		}
		for _, p := range s.Profiles() {
			alias := ""
			if len(p.Aliases) > 0 {
				alias = fmt.Sprintf(" (aliases: %v)", p.Aliases)
			}
			fmt.Printf("%-32s v%-8s %s%s\n", p.ID, p.Version, p.Title, alias)
		}
	}
	return nil
}

func emitJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Emit JSON")
}
