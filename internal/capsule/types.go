// Package capsule defines the core record types of the truth-capsule store:
// capsules (versioned units of policy/guidance text), bundles (ordered
// groupings of capsule ids), and profiles (output-format configurations
// consumed during composition).
//
// Records are immutable once loaded. A new capsule version is a new record
// with a new id; nothing edits a loaded record in place. That property is
// what makes composition a pure function of its inputs and what lets the
// store be shared across the composer, the witness runner, and the signer
// without synchronization.
package capsule

import (
	"fmt"
	"regexp"
	"strings"
)

// ReviewStatus is the lifecycle state of a capsule's editorial review.
type ReviewStatus string

const (
	ReviewDraft      ReviewStatus = "draft"
	ReviewInReview   ReviewStatus = "in_review"
	ReviewApproved   ReviewStatus = "approved"
	ReviewDeprecated ReviewStatus = "deprecated"
)

// AllReviewStatuses returns the closed set of valid review statuses.
func AllReviewStatuses() []ReviewStatus {
	return []ReviewStatus{ReviewDraft, ReviewInReview, ReviewApproved, ReviewDeprecated}
}

// PedagogyKind classifies a pedagogy entry.
type PedagogyKind string

const (
	PedagogySocratic PedagogyKind = "Socratic"
	PedagogyAphorism PedagogyKind = "Aphorism"
)

// PedagogyEntry is one teaching line attached to a capsule. Socratic
// entries are questions; Aphorism entries are compressed maxims.
type PedagogyEntry struct {
	Kind PedagogyKind `json:"kind" yaml:"kind"`
	Text string       `json:"text" yaml:"text"`
}

// WitnessLanguage identifies the execution adapter for a witness.
type WitnessLanguage string

const (
	LanguagePython WitnessLanguage = "python"
	LanguageNode   WitnessLanguage = "node"
	LanguageBash   WitnessLanguage = "bash"
	LanguageShell  WitnessLanguage = "shell"
)

// AllWitnessLanguages returns the closed set of supported languages.
func AllWitnessLanguages() []WitnessLanguage {
	return []WitnessLanguage{LanguagePython, LanguageNode, LanguageBash, LanguageShell}
}

// FSMode selects the filesystem posture of a witness sandbox.
type FSMode string

const (
	FSReadOnly  FSMode = "ro"
	FSReadWrite FSMode = "rw"
)

// WitnessSpec declares one executable check owned by a capsule. Exactly one
// of Code or CodeRef is set: Code is inline script text, CodeRef points at a
// file relative to the store root.
type WitnessSpec struct {
	Name       string            `json:"name" yaml:"name"`
	Language   WitnessLanguage   `json:"language" yaml:"language"`
	Code       string            `json:"code,omitempty" yaml:"code,omitempty"`
	CodeRef    string            `json:"code_ref,omitempty" yaml:"code_ref,omitempty"`
	Entrypoint string            `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`
	Args       []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Workdir    string            `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Stdin      string            `json:"stdin,omitempty" yaml:"stdin,omitempty"`
	TimeoutMs  int64             `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	MemoryMB   int64             `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	Net        bool              `json:"net,omitempty" yaml:"net,omitempty"`
	FSMode     FSMode            `json:"fs_mode,omitempty" yaml:"fs_mode,omitempty"`
}

// Review holds the editorial state of a capsule.
type Review struct {
	Status    ReviewStatus `json:"status" yaml:"status"`
	Reviewers []string     `json:"reviewers,omitempty" yaml:"reviewers,omitempty"`
}

// SigningBlock is the cryptographic provenance attached to a capsule after
// signing. Digest is the hex content digest; Pubkey and Signature are
// base64. Method is always "ed25519" for records this system produces.
type SigningBlock struct {
	Method    string `json:"method" yaml:"method"`
	KeyID     string `json:"key_id" yaml:"key_id"`
	Pubkey    string `json:"pubkey" yaml:"pubkey"`
	Digest    string `json:"digest" yaml:"digest"`
	Signature string `json:"signature" yaml:"signature"`
}

// Provenance records authorship, review state, and optional signing data.
type Provenance struct {
	Author  string        `json:"author,omitempty" yaml:"author,omitempty"`
	Org     string        `json:"org,omitempty" yaml:"org,omitempty"`
	License string        `json:"license,omitempty" yaml:"license,omitempty"`
	Created string        `json:"created,omitempty" yaml:"created,omitempty"`
	Updated string        `json:"updated,omitempty" yaml:"updated,omitempty"`
	Review  Review        `json:"review" yaml:"review"`
	Signing *SigningBlock `json:"signing,omitempty" yaml:"signing,omitempty"`
}

// Security carries the sensitivity classification of a capsule.
type Security struct {
	Sensitivity string `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
}

// Capsule is one versioned unit of policy/guidance text.
type Capsule struct {
	ID               string          `json:"id" yaml:"id"`
	Version          string          `json:"version" yaml:"version"`
	Domain           string          `json:"domain" yaml:"domain"`
	Title            string          `json:"title,omitempty" yaml:"title,omitempty"`
	Statement        string          `json:"statement" yaml:"statement"`
	Assumptions      []string        `json:"assumptions,omitempty" yaml:"assumptions,omitempty"`
	Pedagogy         []PedagogyEntry `json:"pedagogy,omitempty" yaml:"pedagogy,omitempty"`
	Provenance       Provenance      `json:"provenance" yaml:"provenance"`
	AppliesTo        []string        `json:"applies_to,omitempty" yaml:"applies_to,omitempty"`
	IncompatibleWith []string        `json:"incompatible_with,omitempty" yaml:"incompatible_with,omitempty"`
	Witnesses        []WitnessSpec   `json:"witnesses,omitempty" yaml:"witnesses,omitempty"`
	Security         Security        `json:"security,omitempty" yaml:"security,omitempty"`

	// SourceFile is the path the capsule was loaded from. Not serialized.
	SourceFile string `json:"-" yaml:"-"`
}

// Socratic returns the text of all Socratic pedagogy entries in order.
func (c *Capsule) Socratic() []string {
	return c.pedagogyTexts(PedagogySocratic)
}

// Aphorisms returns the text of all Aphorism pedagogy entries in order.
func (c *Capsule) Aphorisms() []string {
	return c.pedagogyTexts(PedagogyAphorism)
}

func (c *Capsule) pedagogyTexts(kind PedagogyKind) []string {
	var out []string
	for _, p := range c.Pedagogy {
		if p.Kind == kind {
			out = append(out, p.Text)
		}
	}
	return out
}

// idPattern accepts domain.name_vN and domain.name_vN_suffix forms.
var idPattern = regexp.MustCompile(`^[a-z0-9_.-]+_v[0-9]+(?:_[a-z0-9_]+)?$`)

// ValidID reports whether id matches the required capsule id pattern.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Validate checks the capsule for structural errors independent of any
// store context. Linting (pattern checks, closed enums, strict mode) is
// the store's job; this catches records that could never be usable.
func (c *Capsule) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("capsule id is required")
	}
	if c.Statement == "" {
		return fmt.Errorf("capsule statement is required for %q", c.ID)
	}
	if c.Domain == "" {
		return fmt.Errorf("capsule domain is required for %q", c.ID)
	}
	for _, inc := range c.IncompatibleWith {
		if inc == c.ID {
			return fmt.Errorf("capsule %q cannot be incompatible with itself", c.ID)
		}
	}
	seen := make(map[string]bool, len(c.Witnesses))
	for _, w := range c.Witnesses {
		if w.Name == "" {
			return fmt.Errorf("capsule %q has a witness without a name", c.ID)
		}
		if seen[w.Name] {
			return fmt.Errorf("capsule %q declares witness %q twice", c.ID, w.Name)
		}
		seen[w.Name] = true
		if w.Code != "" && w.CodeRef != "" {
			return fmt.Errorf("witness %q of capsule %q sets both code and code_ref", w.Name, c.ID)
		}
	}
	return nil
}

// Clone creates a deep copy of the capsule.
func (c *Capsule) Clone() *Capsule {
	clone := *c
	clone.Assumptions = copyStringSlice(c.Assumptions)
	clone.AppliesTo = copyStringSlice(c.AppliesTo)
	clone.IncompatibleWith = copyStringSlice(c.IncompatibleWith)
	if c.Pedagogy != nil {
		clone.Pedagogy = make([]PedagogyEntry, len(c.Pedagogy))
		copy(clone.Pedagogy, c.Pedagogy)
	}
	if c.Witnesses != nil {
		clone.Witnesses = make([]WitnessSpec, len(c.Witnesses))
		for i, w := range c.Witnesses {
			wc := w
			wc.Args = copyStringSlice(w.Args)
			if w.Env != nil {
				wc.Env = make(map[string]string, len(w.Env))
				for k, v := range w.Env {
					wc.Env[k] = v
				}
			}
			clone.Witnesses[i] = wc
		}
	}
	if c.Provenance.Signing != nil {
		sb := *c.Provenance.Signing
		clone.Provenance.Signing = &sb
	}
	clone.Provenance.Review.Reviewers = copyStringSlice(c.Provenance.Review.Reviewers)
	return &clone
}

// Bundle is an ordered named grouping of capsule ids. Order is significant
// and preserved verbatim during resolution. Excludes and Order are the
// v1.1 additions: Excludes removes ids after the bundle's capsules are
// gathered, Order pins an explicit prefix ordering over whatever survives.
type Bundle struct {
	Name      string   `json:"name" yaml:"name"`
	Version   string   `json:"version,omitempty" yaml:"version,omitempty"`
	AppliesTo []string `json:"applies_to,omitempty" yaml:"applies_to,omitempty"`
	Capsules  []string `json:"capsules" yaml:"capsules"`
	Excludes  []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	Order     []string `json:"order,omitempty" yaml:"order,omitempty"`

	// PriorityOverrides adjusts control-table priorities per capsule id.
	PriorityOverrides map[string]int `json:"priority_overrides,omitempty" yaml:"priority_overrides,omitempty"`

	SourceFile string `json:"-" yaml:"-"`
}

// ResponseSpec configures how a profile renders composed output. Projection
// holds the raw selector strings and render templates as authored; the
// composer parses them into a typed form at profile load.
type ResponseSpec struct {
	Format      string          `json:"format,omitempty" yaml:"format,omitempty"`
	Policy      string          `json:"policy,omitempty" yaml:"policy,omitempty"`
	SchemaRef   string          `json:"schema_ref,omitempty" yaml:"schema_ref,omitempty"`
	SystemBlock string          `json:"system_block,omitempty" yaml:"system_block,omitempty"`
	Projection  *ProjectionSpec `json:"projection,omitempty" yaml:"projection,omitempty"`
}

// ProjectionSpec is the raw, as-authored projection configuration.
type ProjectionSpec struct {
	Include []string          `json:"include,omitempty" yaml:"include,omitempty"`
	Render  map[string]string `json:"render,omitempty" yaml:"render,omitempty"`
}

// Profile is a named output-format/policy configuration. SystemBlock and
// per-capsule synthesis are mutually exclusive rendering paths: when
// SystemBlock is set it is emitted verbatim (profile placeholders only)
// and no capsule blocks are synthesized.
type Profile struct {
	ID       string       `json:"id" yaml:"id"`
	Version  string       `json:"version,omitempty" yaml:"version,omitempty"`
	Title    string       `json:"title,omitempty" yaml:"title,omitempty"`
	Aliases  []string     `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Response ResponseSpec `json:"response" yaml:"response"`

	SourceFile string `json:"-" yaml:"-"`
}

// ResolvedCapsule is one entry of a manifest's resolved capsule list.
type ResolvedCapsule struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Digest  string `json:"digest"`
}

// BundleRef records which bundle version participated in a composition.
type BundleRef struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Manifest is the reproducibility record of one composition. GeneratedAt
// is informational only and excluded from CompositionDigest, so two
// compositions of identical inputs differ in nothing but that field.
type Manifest struct {
	ProfileID         string            `json:"profile_id"`
	ProfileVersion    string            `json:"profile_version,omitempty"`
	Bundles           []BundleRef       `json:"bundles,omitempty"`
	ResolvedCapsules  []ResolvedCapsule `json:"resolved_capsules"`
	CompositionDigest string            `json:"composition_digest"`
	ComposerVersion   string            `json:"composer_version,omitempty"`
	GeneratedAt       string            `json:"generated_at"`
}

// NormalizeStatus maps the GREEN/RED aggregate synonyms onto PASS/FAIL.
// Unknown values are returned unchanged, upper-cased.
func NormalizeStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GREEN":
		return "PASS"
	case "RED":
		return "FAIL"
	default:
		return strings.ToUpper(strings.TrimSpace(s))
	}
}

func copyStringSlice(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}
