package provenance

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
)

func testCapsule() *capsule.Capsule {
	return &capsule.Capsule{
		ID:          "reasoning.idempotency_v1",
		Version:     "1.0.0",
		Domain:      "reasoning",
		Title:       "Idempotent retries",
		Statement:   "Operations that may be retried must be idempotent.",
		Assumptions: []string{"at-least-once delivery", "no exactly-once transport"},
		Pedagogy: []capsule.PedagogyEntry{
			{Kind: capsule.PedagogySocratic, Text: "What happens if this runs twice?"},
			{Kind: capsule.PedagogyAphorism, Text: "Replay is not an error."},
		},
		Provenance: capsule.Provenance{Review: capsule.Review{Status: capsule.ReviewApproved}},
	}
}

func TestContentDigestStable(t *testing.T) {
	c := testCapsule()
	d1, err := ContentDigest(c)
	require.NoError(t, err)
	d2, err := ContentDigest(c)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestContentDigestExcludesSigningBlock(t *testing.T) {
	c := testCapsule()
	d1, err := ContentDigest(c)
	require.NoError(t, err)

	signed := c.Clone()
	signed.Provenance.Signing = &capsule.SigningBlock{Method: "ed25519", Digest: "x", Signature: "y"}
	d2, err := ContentDigest(signed)
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "signing block must not influence the content digest")
}

func TestContentDigestChangesWithStatement(t *testing.T) {
	c := testCapsule()
	d1, err := ContentDigest(c)
	require.NoError(t, err)

	c2 := c.Clone()
	c2.Statement = "Operations must be idempotent and logged."
	d2, err := ContentDigest(c2)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	out, err := CanonicalJSON(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(out))
}

func TestCanonicalJSONKeepsUnicode(t *testing.T) {
	out, err := CanonicalJSON(map[string]string{"s": "x ≥ y"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "≥")
	assert.NotContains(t, string(out), `\u2265`)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair("test-key")
	require.NoError(t, err)

	c := testCapsule()
	block, err := Sign(c, kp)
	require.NoError(t, err)
	assert.Equal(t, "ed25519", block.Method)
	assert.Equal(t, "test-key", block.KeyID)

	signed := AttachSignature(c, block)
	assert.NoError(t, Verify(signed))
}

func TestVerifyContentTampered(t *testing.T) {
	kp, err := GenerateKeypair("test-key")
	require.NoError(t, err)

	c := testCapsule()
	block, err := Sign(c, kp)
	require.NoError(t, err)
	signed := AttachSignature(c, block)

	signed.Statement = "Tampered after signing."
	err = Verify(signed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContentTampered)
	assert.Equal(t, "content_tampered", VerifyStatus(err))
}

func TestVerifyInvalidSignature(t *testing.T) {
	kp1, err := GenerateKeypair("key-1")
	require.NoError(t, err)
	kp2, err := GenerateKeypair("key-2")
	require.NoError(t, err)

	c := testCapsule()
	block, err := Sign(c, kp1)
	require.NoError(t, err)

	// Swap in an unrelated public key: digest still matches, signature must not.
	block.Pubkey = base64.StdEncoding.EncodeToString(kp2.Public)
	signed := AttachSignature(c, block)

	err = Verify(signed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyUnsigned(t *testing.T) {
	err := Verify(testCapsule())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsigned)
	assert.Equal(t, "unsigned", VerifyStatus(err))
}

func TestVerifyStreamDoesNotAbort(t *testing.T) {
	kp, err := GenerateKeypair("stream-key")
	require.NoError(t, err)

	good := testCapsule()
	block, err := Sign(good, kp)
	require.NoError(t, err)
	signedGood := AttachSignature(good, block)

	tampered := AttachSignature(good, block)
	tampered.Statement = "changed"

	lineGood, err := json.Marshal(signedGood)
	require.NoError(t, err)
	lineTampered, err := json.Marshal(tampered)
	require.NoError(t, err)

	stream := string(lineGood) + "\n" + "not json at all\n" + string(lineTampered) + "\n"
	results, err := VerifyStream(strings.NewReader(stream))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "ok", results[0].Status)
	assert.Equal(t, "error", results[1].Status)
	assert.Equal(t, "content_tampered", results[2].Status)
}

func TestPolicyCheckRequiresSignedApproved(t *testing.T) {
	unsignedApproved := testCapsule()
	findings := PolicyCheck([]*capsule.Capsule{unsignedApproved}, true)
	require.Len(t, findings, 1)
	assert.Equal(t, "unsigned", findings[0].Status)

	// Without the flag, unsigned approved capsules pass the gate.
	assert.Empty(t, PolicyCheck([]*capsule.Capsule{unsignedApproved}, false))
}

func TestDecodePrivateKeySeedForm(t *testing.T) {
	kp, err := GenerateKeypair("seed-key")
	require.NoError(t, err)

	seed := kp.Private.Seed()
	priv, err := DecodePrivateKey(base64.StdEncoding.EncodeToString(seed))
	require.NoError(t, err)
	assert.Equal(t, kp.Private, priv)
}
