package provenance

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
)

// SigningMethod is the only method this system produces or verifies.
const SigningMethod = "ed25519"

// Keypair holds an Ed25519 keypair plus its identifier.
type Keypair struct {
	KeyID   string
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a fresh Ed25519 keypair.
func GenerateKeypair(keyID string) (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 keypair: %w", err)
	}
	return &Keypair{KeyID: keyID, Public: pub, Private: priv}, nil
}

// DecodePublicKey parses a base64 Ed25519 public key. Accepts both raw and
// padded standard encodings since keys arrive from YAML authored by hand.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding public key: %v", ErrBadKeyMaterial, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes, want %d", ErrBadKeyMaterial, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// DecodePrivateKey parses a base64 Ed25519 private key. Both the 64-byte
// private key form and the 32-byte seed form are accepted.
func DecodePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding private key: %v", ErrBadKeyMaterial, err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("%w: private key is %d bytes, want %d or %d", ErrBadKeyMaterial, len(raw), ed25519.PrivateKeySize, ed25519.SeedSize)
	}
}

func decodeBase64(s string) ([]byte, error) {
	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// Sign computes the capsule's content digest, signs the UTF-8 bytes of the
// hex digest, and returns a populated signing block. The caller decides
// where to attach it; Sign never mutates the capsule.
func Sign(c *capsule.Capsule, kp *Keypair) (*capsule.SigningBlock, error) {
	digest, err := ContentDigest(c)
	if err != nil {
		return nil, err
	}

	sig := ed25519.Sign(kp.Private, []byte(digest))
	logging.ProvenanceDebug("signed capsule %s with key %s", c.ID, kp.KeyID)

	return &capsule.SigningBlock{
		Method:    SigningMethod,
		KeyID:     kp.KeyID,
		Pubkey:    base64.StdEncoding.EncodeToString(kp.Public),
		Digest:    digest,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// AttachSignature returns a copy of the capsule with the signing block set.
func AttachSignature(c *capsule.Capsule, block *capsule.SigningBlock) *capsule.Capsule {
	signed := c.Clone()
	sb := *block
	signed.Provenance.Signing = &sb
	return signed
}
