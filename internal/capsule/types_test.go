package capsule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"reasoning.idempotency_v1", true},
		{"reasoning.idempotency_v2_draft", true},
		{"ops.retry-budget_v10", true},
		{"reasoning.idempotency", false},
		{"Reasoning.Idempotency_v1", false},
		{"reasoning.idempotency_v", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidID(tt.id))
		})
	}
}

func TestCapsuleValidate(t *testing.T) {
	base := func() *Capsule {
		return &Capsule{
			ID:        "reasoning.idempotency_v1",
			Version:   "1.0.0",
			Domain:    "reasoning",
			Statement: "Retries must be safe.",
		}
	}

	t.Run("valid capsule passes", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing statement", func(t *testing.T) {
		c := base()
		c.Statement = ""
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "statement")
	})

	t.Run("self incompatibility", func(t *testing.T) {
		c := base()
		c.IncompatibleWith = []string{c.ID}
		assert.Error(t, c.Validate())
	})

	t.Run("duplicate witness name", func(t *testing.T) {
		c := base()
		c.Witnesses = []WitnessSpec{
			{Name: "check", Language: LanguagePython, Code: "print()"},
			{Name: "check", Language: LanguageBash, Code: "true"},
		}
		assert.Error(t, c.Validate())
	})

	t.Run("witness with code and code_ref", func(t *testing.T) {
		c := base()
		c.Witnesses = []WitnessSpec{
			{Name: "check", Language: LanguagePython, Code: "print()", CodeRef: "w.py"},
		}
		assert.Error(t, c.Validate())
	})
}

func TestCapsuleClone(t *testing.T) {
	c := &Capsule{
		ID:          "reasoning.idempotency_v1",
		Version:     "1.0.0",
		Domain:      "reasoning",
		Statement:   "Retries must be safe.",
		Assumptions: []string{"a", "b"},
		Pedagogy: []PedagogyEntry{
			{Kind: PedagogySocratic, Text: "What happens on replay?"},
		},
		Witnesses: []WitnessSpec{
			{Name: "check", Language: LanguagePython, Code: "print()", Env: map[string]string{"X": "1"}},
		},
		Provenance: Provenance{
			Review:  Review{Status: ReviewApproved},
			Signing: &SigningBlock{Method: "ed25519", Digest: "abc"},
		},
	}

	clone := c.Clone()
	clone.Assumptions[0] = "mutated"
	clone.Witnesses[0].Env["X"] = "2"
	clone.Provenance.Signing.Digest = "def"

	assert.Equal(t, "a", c.Assumptions[0])
	assert.Equal(t, "1", c.Witnesses[0].Env["X"])
	assert.Equal(t, "abc", c.Provenance.Signing.Digest)
}

func TestPedagogyAccessors(t *testing.T) {
	c := &Capsule{
		Pedagogy: []PedagogyEntry{
			{Kind: PedagogySocratic, Text: "q1"},
			{Kind: PedagogyAphorism, Text: "a1"},
			{Kind: PedagogySocratic, Text: "q2"},
		},
	}
	assert.Equal(t, []string{"q1", "q2"}, c.Socratic())
	assert.Equal(t, []string{"a1"}, c.Aphorisms())
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, "PASS", NormalizeStatus("GREEN"))
	assert.Equal(t, "FAIL", NormalizeStatus("red"))
	assert.Equal(t, "PASS", NormalizeStatus(" pass "))
	assert.Equal(t, "SKIP", NormalizeStatus("SKIP"))
}
