package provenance

import "errors"

// Sentinel errors for signature verification outcomes. Callers classify
// with errors.Is; ErrUnsigned is a distinct, non-fatal condition for
// unsigned or draft capsules.
var (
	// ErrContentTampered indicates the recomputed digest does not match the
	// digest stored in the signing block.
	ErrContentTampered = errors.New("content tampered: stored digest does not match current content")

	// ErrInvalidSignature indicates the digest matches but the signature
	// does not verify against the stored public key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnsigned indicates the capsule carries no signing block.
	ErrUnsigned = errors.New("unsigned capsule")

	// ErrUnsupportedMethod indicates a signing block with a method other
	// than ed25519.
	ErrUnsupportedMethod = errors.New("unsupported signing method")

	// ErrBadKeyMaterial indicates key bytes that cannot be decoded or have
	// the wrong length.
	ErrBadKeyMaterial = errors.New("bad key material")
)
