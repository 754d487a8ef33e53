package compose

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/store"
)

func testStore(t *testing.T, files map[string]string) *store.Store {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	s, report, err := store.Load(root, store.Options{})
	require.NoError(t, err)
	require.Equal(t, 0, report.ErrorCount(), "fixture must lint clean: %+v", report.Items)
	return s
}

func fixtureFiles() map[string]string {
	return map[string]string{
		"capsules/llm/citation.yaml": `id: llm.citation_v1
version: "1.0"
domain: llm
title: Citation discipline
statement: Every factual claim cites a source or is marked unverified.
assumptions:
  - Sources are reachable.
  - Claims are checkable.
  - Reviewers exist.
pedagogy:
  - kind: Socratic
    text: What source backs this?
  - kind: Aphorism
    text: No citation, no assertion.
provenance:
  author: A
  org: O
  license: CC0
  created: "2026-01-01"
  review:
    status: approved
`,
		"capsules/llm/plan.yaml": `id: llm.plan_v1
version: "1.0"
domain: llm
title: Plan before answering
statement: Produce a plan, verify it, then answer.
provenance:
  author: A
  org: O
  license: CC0
  created: "2026-01-01"
  review:
    status: approved
`,
		"bundles/core.yaml": `name: core
version: "1.1"
capsules:
  - llm.citation_v1
  - llm.plan_v1
`,
		"profiles/conversational.yaml": `id: profile.conversational_v1
version: "1.0"
title: Conversational
aliases:
  - conversational
response:
  format: markdown
  policy: Answer directly; abstain when unsure.
`,
	}
}

func TestComposeDeterminism(t *testing.T) {
	s := testStore(t, fixtureFiles())
	c := New(s)
	req := Request{Profile: "conversational", Bundles: []string{"core"}}

	first, err := c.Compose(req)
	require.NoError(t, err)
	second, err := c.Compose(req)
	require.NoError(t, err)

	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Equal(t, first.Manifest.CompositionDigest, second.Manifest.CompositionDigest)
	if diff := cmp.Diff(first.Manifest, second.Manifest,
		cmpopts.IgnoreFields(capsule.Manifest{}, "GeneratedAt")); diff != "" {
		t.Errorf("manifests differ (-first +second):\n%s", diff)
	}
}

func TestComposeRenderLayout(t *testing.T) {
	s := testStore(t, fixtureFiles())
	c := New(s)

	res, err := c.Compose(Request{Profile: "conversational", Bundles: []string{"core"}})
	require.NoError(t, err)

	lines := strings.Split(res.Prompt, "\n")
	assert.Equal(t, "SYSTEM: Profile=Conversational (id=profile.conversational_v1, v=1.0)", lines[0])
	assert.Equal(t, "POLICY: Answer directly; abstain when unsure.", lines[1])
	assert.Equal(t, "FORMAT: markdown", lines[2])
	assert.Contains(t, res.Prompt, "SYSTEM: Capsule Rules (Selected)")
	assert.Contains(t, res.Prompt, "BEGIN CAPSULE id=llm.citation_v1 version=1.0 domain=llm")
	assert.Contains(t, res.Prompt, "STATEMENT: Every factual claim cites a source or is marked unverified.")
	assert.Contains(t, res.Prompt, "SOCRATIC:\n  - What source backs this?")
	assert.Contains(t, res.Prompt, "END CAPSULE")
	assert.True(t, strings.HasSuffix(res.Prompt, "END CAPSULE\n"), "trailing blank lines are trimmed")

	// Declaration order in the bundle is preserved in the prompt.
	citation := strings.Index(res.Prompt, "id=llm.citation_v1")
	plan := strings.Index(res.Prompt, "id=llm.plan_v1")
	assert.Less(t, citation, plan)
}

func TestAliasEquivalence(t *testing.T) {
	s := testStore(t, fixtureFiles())
	c := New(s)

	byAlias, err := c.Compose(Request{Profile: "conversational", Bundles: []string{"core"}})
	require.NoError(t, err)
	byID, err := c.Compose(Request{Profile: "profile.conversational_v1", Bundles: []string{"core"}})
	require.NoError(t, err)

	assert.Equal(t, byAlias.Prompt, byID.Prompt)
	assert.Equal(t, byAlias.Manifest.CompositionDigest, byID.Manifest.CompositionDigest)
}

func TestUnknownProfileSuggests(t *testing.T) {
	s := testStore(t, fixtureFiles())
	c := New(s)

	_, err := c.Compose(Request{Profile: "conversatonal", Bundles: []string{"core"}})
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "profile", resErr.Kind)
	assert.Contains(t, resErr.Suggestions, "conversational")
}

func TestUnknownBundleIsError(t *testing.T) {
	s := testStore(t, fixtureFiles())
	c := New(s)

	_, err := c.Compose(Request{Profile: "conversational", Bundles: []string{"cor"}})
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "bundle", resErr.Kind)
	assert.Contains(t, resErr.Suggestions, "core")
}

func TestEmptyCompositionFails(t *testing.T) {
	s := testStore(t, fixtureFiles())
	c := New(s)

	_, err := c.Compose(Request{Profile: "conversational"})
	var compErr *CompositionError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, ReasonNoCapsules, compErr.Reason)
}

func TestProjectionSlicing(t *testing.T) {
	files := fixtureFiles()
	files["profiles/ci.yaml"] = `id: profile.ci_v1
version: "1.0"
title: CI
response:
  format: json
  projection:
    include:
      - statement
      - "assumptions[:2]"
`
	s := testStore(t, files)
	c := New(s)

	res, err := c.Compose(Request{Profile: "profile.ci_v1", Capsules: []string{"llm.citation_v1"}})
	require.NoError(t, err)

	assert.Contains(t, res.Prompt, "  - Sources are reachable.")
	assert.Contains(t, res.Prompt, "  - Claims are checkable.")
	assert.NotContains(t, res.Prompt, "Reviewers exist.")
	// Title was not projected, so it is omitted.
	assert.NotContains(t, res.Prompt, "TITLE:")
}

func TestCompactSuppressesPedagogy(t *testing.T) {
	s := testStore(t, fixtureFiles())
	c := New(s)

	res, err := c.Compose(Request{Profile: "conversational", Bundles: []string{"core"}, Compact: true})
	require.NoError(t, err)
	assert.NotContains(t, res.Prompt, "SOCRATIC:")
	assert.NotContains(t, res.Prompt, "APHORISMS:")
	assert.Contains(t, res.Prompt, "STATEMENT:")
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	s := testStore(t, fixtureFiles())
	c := New(s)

	res, err := c.Compose(Request{
		Profile:  "conversational",
		Bundles:  []string{"core"},
		Capsules: []string{"llm.citation_v1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(res.Prompt, "id=llm.citation_v1"))
	require.Len(t, res.Manifest.ResolvedCapsules, 2)
	assert.Equal(t, "llm.citation_v1", res.Manifest.ResolvedCapsules[0].ID)
}

func TestBundleExcludesAndOrder(t *testing.T) {
	files := fixtureFiles()
	files["bundles/trimmed.yaml"] = `name: trimmed
version: "1.1"
capsules:
  - llm.citation_v1
  - llm.plan_v1
excludes:
  - llm.citation_v1
`
	files["bundles/reversed.yaml"] = `name: reversed
version: "1.1"
capsules:
  - llm.citation_v1
  - llm.plan_v1
order:
  - llm.plan_v1
`
	s := testStore(t, files)
	c := New(s)

	res, err := c.Compose(Request{Profile: "conversational", Bundles: []string{"trimmed"}})
	require.NoError(t, err)
	require.Len(t, res.Manifest.ResolvedCapsules, 1)
	assert.Equal(t, "llm.plan_v1", res.Manifest.ResolvedCapsules[0].ID)

	res, err = c.Compose(Request{Profile: "conversational", Bundles: []string{"reversed"}})
	require.NoError(t, err)
	require.Len(t, res.Manifest.ResolvedCapsules, 2)
	assert.Equal(t, "llm.plan_v1", res.Manifest.ResolvedCapsules[0].ID)
	assert.Equal(t, "llm.citation_v1", res.Manifest.ResolvedCapsules[1].ID)
}

func TestIncompatibilityPolicy(t *testing.T) {
	files := fixtureFiles()
	files["capsules/llm/terse.yaml"] = `id: llm.terse_v1
version: "1.0"
domain: llm
statement: Answer in one sentence.
incompatible_with:
  - llm.plan_v1
provenance:
  author: A
  org: O
  license: CC0
  created: "2026-01-01"
  review:
    status: approved
`
	s := testStore(t, files)
	c := New(s)

	res, err := c.Compose(Request{
		Profile:  "conversational",
		Capsules: []string{"llm.plan_v1", "llm.terse_v1"},
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "incompatible")

	_, err = c.Compose(Request{
		Profile:         "conversational",
		Capsules:        []string{"llm.plan_v1", "llm.terse_v1"},
		Incompatibility: IncompatibilityError,
	})
	var compErr *CompositionError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, ReasonIncompatible, compErr.Reason)
}

func TestSystemBlockReplacesSynthesis(t *testing.T) {
	files := fixtureFiles()
	files["profiles/verbatim.yaml"] = `id: profile.verbatim_v1
version: "2.0"
title: Verbatim
response:
  system_block: |
    SYSTEM: You are governed by profile {id} v{version}.
    Follow the house rules.
`
	s := testStore(t, files)
	c := New(s)

	res, err := c.Compose(Request{Profile: "profile.verbatim_v1", Bundles: []string{"core"}})
	require.NoError(t, err)
	assert.Equal(t, "SYSTEM: You are governed by profile profile.verbatim_v1 v2.0.\nFollow the house rules.\n", res.Prompt)
	// Capsules still resolve into the manifest even though none are rendered.
	assert.Len(t, res.Manifest.ResolvedCapsules, 2)
}

func TestSystemBlockSubstitutesResponseFields(t *testing.T) {
	files := fixtureFiles()
	files["profiles/blocky.yaml"] = `id: profile.block_v1
version: "1.0"
title: Blocky
response:
  format: json
  policy: strict
  system_block: |
    SYSTEM: {title} ({id} v{version}) format={format} policy={policy}
`
	s := testStore(t, files)
	c := New(s)

	res, err := c.Compose(Request{Profile: "profile.block_v1", Bundles: []string{"core"}})
	require.NoError(t, err)
	assert.Equal(t, "SYSTEM: Blocky (profile.block_v1 v1.0) format=json policy=strict\n", res.Prompt)
}

func TestControlTable(t *testing.T) {
	files := fixtureFiles()
	files["bundles/prioritized.yaml"] = `name: prioritized
version: "1.1"
capsules:
  - llm.citation_v1
  - llm.plan_v1
priority_overrides:
  llm.plan_v1: 1
`
	s := testStore(t, files)
	c := New(s)

	res, err := c.Compose(Request{
		Profile:      "conversational",
		Bundles:      []string{"prioritized"},
		ControlTable: true,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Prompt, "SYSTEM: Capsule Control Table (compiled)")

	planRow := strings.Index(res.Prompt, "| llm.plan_v1")
	citationRow := strings.Index(res.Prompt, "| llm.citation_v1")
	require.Greater(t, planRow, 0)
	require.Greater(t, citationRow, 0)
	assert.Less(t, planRow, citationRow, "override moves plan to priority 1")
}

func TestDigestChangesWhenContentChanges(t *testing.T) {
	files := fixtureFiles()
	s := testStore(t, files)
	base, err := New(s).Compose(Request{Profile: "conversational", Bundles: []string{"core"}})
	require.NoError(t, err)

	files["capsules/llm/plan.yaml"] = strings.Replace(files["capsules/llm/plan.yaml"],
		"Produce a plan, verify it, then answer.",
		"Produce a plan, verify it twice, then answer.", 1)
	s2 := testStore(t, files)
	changed, err := New(s2).Compose(Request{Profile: "conversational", Bundles: []string{"core"}})
	require.NoError(t, err)

	assert.NotEqual(t, base.Manifest.CompositionDigest, changed.Manifest.CompositionDigest)
}