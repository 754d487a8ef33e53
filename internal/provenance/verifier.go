package provenance

import (
	"bufio"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
)

// Verify checks a capsule's signing block against its current content.
// The digest is recomputed and compared first: a mismatch means the content
// changed after signing and is reported as ErrContentTampered before any
// signature math happens. A missing signing block is ErrUnsigned.
func Verify(c *capsule.Capsule) error {
	block := c.Provenance.Signing
	if block == nil || block.Signature == "" {
		return fmt.Errorf("capsule %q: %w", c.ID, ErrUnsigned)
	}
	if block.Method != SigningMethod {
		return fmt.Errorf("capsule %q: %w: %q", c.ID, ErrUnsupportedMethod, block.Method)
	}

	digest, err := ContentDigest(c)
	if err != nil {
		return err
	}
	if digest != block.Digest {
		logging.Provenance("digest mismatch for %s: stored=%s computed=%s", c.ID, block.Digest, digest)
		return fmt.Errorf("capsule %q: %w", c.ID, ErrContentTampered)
	}

	pub, err := DecodePublicKey(block.Pubkey)
	if err != nil {
		return fmt.Errorf("capsule %q: %w", c.ID, err)
	}
	sig, err := decodeBase64(block.Signature)
	if err != nil {
		return fmt.Errorf("capsule %q: %w: decoding signature: %v", c.ID, ErrInvalidSignature, err)
	}
	if !ed25519.Verify(pub, []byte(digest), sig) {
		return fmt.Errorf("capsule %q: %w", c.ID, ErrInvalidSignature)
	}
	return nil
}

// VerifyStatus classifies a verification error into a stable status word
// for reporting: ok, unsigned, content_tampered, invalid_signature, error.
func VerifyStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnsigned):
		return "unsigned"
	case errors.Is(err, ErrContentTampered):
		return "content_tampered"
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrUnsupportedMethod), errors.Is(err, ErrBadKeyMaterial):
		return "invalid_signature"
	default:
		return "error"
	}
}

// StreamResult is the per-record outcome of a batch verification.
type StreamResult struct {
	Line   int    `json:"line"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// VerifyStream verifies newline-delimited JSON capsule records from r.
// Every line produces a result; a bad record never aborts the stream.
func VerifyStream(r io.Reader) ([]StreamResult, error) {
	var results []StreamResult
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var c capsule.Capsule
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			results = append(results, StreamResult{
				Line:   lineNo,
				Status: "error",
				Detail: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}

		res := StreamResult{Line: lineNo, ID: c.ID}
		err := Verify(&c)
		res.Status = VerifyStatus(err)
		if err != nil {
			res.Detail = err.Error()
		}
		results = append(results, res)
	}
	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("reading record stream: %w", err)
	}
	return results, nil
}

// PolicyCheck applies the release gate over a set of capsules: every
// capsule's stored digest (when present) must match its content, and when
// requireSignedApproved is set, approved capsules must carry a verifiable
// signature. Returns one finding per violation.
func PolicyCheck(capsules []*capsule.Capsule, requireSignedApproved bool) []StreamResult {
	var findings []StreamResult
	for i, c := range capsules {
		err := Verify(c)
		status := VerifyStatus(err)

		switch status {
		case "ok":
			continue
		case "unsigned":
			if requireSignedApproved && c.Provenance.Review.Status == capsule.ReviewApproved {
				findings = append(findings, StreamResult{
					Line:   i + 1,
					ID:     c.ID,
					Status: "unsigned",
					Detail: "approved capsule must be signed",
				})
			}
		default:
			findings = append(findings, StreamResult{
				Line:   i + 1,
				ID:     c.ID,
				Status: status,
				Detail: err.Error(),
			})
		}
	}
	return findings
}
