package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/provenance"
)

// keyFile is the on-disk keypair format produced by keygen.
type keyFile struct {
	KeyID   string `yaml:"key_id"`
	Public  string `yaml:"public"`
	Private string `yaml:"private,omitempty"`
}

var (
	signKeyPath string
	signInPlace bool
	signOut     string
)

// signCmd signs a capsule file
var signCmd = &cobra.Command{
	Use:   "sign [capsule-file]",
	Short: "Sign a capsule with an Ed25519 key",
	Long: `Computes the capsule's content digest, signs it, and embeds the
signing block under provenance.signing. The signature covers normative
content only, so re-signing after a review-state change is not needed.

Example:
  truthcaps sign capsules/llm/citation.yaml --key signing.key --in-place`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func runSign(cmd *cobra.Command, args []string) error {
	kp, err := loadKeypair(signKeyPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading capsule: %w", err)
	}
	var c capsule.Capsule
	if err := yaml.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parsing capsule: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("capsule %s: %w", args[0], err)
	}

	block, err := provenance.Sign(&c, kp)
	if err != nil {
		return err
	}
	signed := provenance.AttachSignature(&c, block)

	out, err := yaml.Marshal(signed)
	if err != nil {
		return fmt.Errorf("encoding capsule: %w", err)
	}

	switch {
	case signInPlace:
		return os.WriteFile(args[0], out, 0644)
	case signOut != "":
		return os.WriteFile(signOut, out, 0644)
	default:
		fmt.Print(string(out))
		return nil
	}
}

func loadKeypair(path string) (*provenance.Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}
	if kf.Private == "" {
		return nil, fmt.Errorf("key file %s has no private key", path)
	}
	priv, err := provenance.DecodePrivateKey(kf.Private)
	if err != nil {
		return nil, err
	}
	pub, err := provenance.DecodePublicKey(kf.Public)
	if err != nil {
		return nil, err
	}
	return &provenance.Keypair{KeyID: kf.KeyID, Public: pub, Private: priv}, nil
}

var keygenKeyID string

// keygenCmd generates a signing keypair
var keygenCmd = &cobra.Command{
	Use:   "keygen [output-file]",
	Short: "Generate an Ed25519 signing keypair",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	kp, err := provenance.GenerateKeypair(keygenKeyID)
	if err != nil {
		return err
	}

	kf := keyFile{
		KeyID:   kp.KeyID,
		Public:  base64.StdEncoding.EncodeToString(kp.Public),
		Private: base64.StdEncoding.EncodeToString(kp.Private),
	}
	data, err := yaml.Marshal(kf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], data, 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}

	fmt.Printf("wrote %s (key id %s)\n", args[0], kp.KeyID)
	fmt.Printf("public key: %s\n", kf.Public)
	return nil
}

func init() {
	signCmd.Flags().StringVarP(&signKeyPath, "key", "k", "", "Key file from keygen (required)")
	signCmd.Flags().BoolVar(&signInPlace, "in-place", false, "Rewrite the capsule file with the signing block")
	signCmd.Flags().StringVarP(&signOut, "out", "o", "", "Write the signed capsule to a file")
	_ = signCmd.MarkFlagRequired("key")

	keygenCmd.Flags().StringVar(&keygenKeyID, "key-id", "default", "Identifier embedded in signing blocks")
}
