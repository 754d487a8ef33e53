// Package provenance implements tamper-evident content digests and Ed25519
// signing for capsules. The digest covers only a capsule's normative fields,
// never the signing block itself or mutable timestamps, so re-signing a
// capsule does not require touching its statement.
package provenance

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
)

// digestCore is the canonical field set covered by the content digest.
// Field order here is irrelevant; canonical serialization sorts keys.
type digestCore struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Domain      string          `json:"domain"`
	Title       string          `json:"title"`
	Statement   string          `json:"statement"`
	Assumptions []string        `json:"assumptions"`
	Pedagogy    []pedagogyEntry `json:"pedagogy"`
}

type pedagogyEntry struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// CanonicalJSON serializes v with recursively sorted object keys, compact
// separators, and no HTML escaping. Two semantically equal values always
// produce identical bytes.
func CanonicalJSON(v interface{}) ([]byte, error) {
	// Round-trip through the generic representation so struct field order
	// never leaks into the output: maps marshal with sorted keys.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ContentDigest computes the SHA-256 hex digest of a capsule's canonical
// normative content.
func ContentDigest(c *capsule.Capsule) (string, error) {
	core := digestCore{
		ID:          c.ID,
		Version:     c.Version,
		Domain:      c.Domain,
		Title:       c.Title,
		Statement:   c.Statement,
		Assumptions: c.Assumptions,
		Pedagogy:    make([]pedagogyEntry, 0, len(c.Pedagogy)),
	}
	if core.Assumptions == nil {
		core.Assumptions = []string{}
	}
	for _, p := range c.Pedagogy {
		core.Pedagogy = append(core.Pedagogy, pedagogyEntry{Kind: string(p.Kind), Text: p.Text})
	}

	canonical, err := CanonicalJSON(core)
	if err != nil {
		return "", fmt.Errorf("canonicalizing capsule %q: %w", c.ID, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
