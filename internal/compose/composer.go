// Package compose turns a profile plus bundle/capsule selections into
// deterministic prompt text and a reproducibility manifest. Composition is
// a pure function of the loaded records and the selection: the only field
// allowed to differ between two identical compositions is the manifest's
// generated_at timestamp, which is excluded from the composition digest.
package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
	"github.com/mrlecko/truth-capsules-sub001/internal/projection"
	"github.com/mrlecko/truth-capsules-sub001/internal/provenance"
	"github.com/mrlecko/truth-capsules-sub001/internal/store"
)

// ComposerVersion is recorded in every manifest.
const ComposerVersion = "1.1.0"

// IncompatibilityPolicy determines what happens when two resolved capsules
// declare each other incompatible.
type IncompatibilityPolicy string

const (
	IncompatibilityWarn  IncompatibilityPolicy = "warn"
	IncompatibilityError IncompatibilityPolicy = "error"
)

// Request is one composition call.
type Request struct {
	Profile  string // profile id or alias
	Bundles  []string
	Capsules []string // explicit extras, appended after bundles

	// Compact suppresses all pedagogy sections regardless of projection.
	Compact bool
	// ControlTable prepends a compiled priority/directive table.
	ControlTable bool
	// Incompatibility defaults to IncompatibilityWarn when empty.
	Incompatibility IncompatibilityPolicy
}

// Result carries the composed prompt and its manifest. Warnings are
// non-fatal findings (skipped unknown bundle references, incompatibility
// conflicts under the warn policy).
type Result struct {
	Prompt   string
	Manifest *capsule.Manifest
	Warnings []string
}

// Composer resolves selections against an immutable store snapshot.
type Composer struct {
	store *store.Store
}

func New(s *store.Store) *Composer {
	return &Composer{store: s}
}

// ResolveProfile resolves a profile by exact id first, then by alias.
// Unknown names produce a ResolutionError carrying the closest-matching
// known ids and aliases.
func (c *Composer) ResolveProfile(name string) (*capsule.Profile, error) {
	if p, ok := c.store.Profile(name); ok {
		return p, nil
	}
	for _, p := range c.store.Profiles() {
		for _, alias := range p.Aliases {
			if alias == name {
				return p, nil
			}
		}
	}
	var known []string
	for _, p := range c.store.Profiles() {
		known = append(known, p.ID)
		known = append(known, p.Aliases...)
	}
	sort.Strings(known)
	return nil, &ResolutionError{Kind: "profile", Name: name, Suggestions: suggest(name, known)}
}

// Compose runs the full pipeline: resolve, check, render, digest.
func (c *Composer) Compose(req Request) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryCompose, "compose")
	defer timer.Stop()

	profile, err := c.ResolveProfile(req.Profile)
	if err != nil {
		return nil, err
	}

	sel, err := c.resolveSelection(req)
	if err != nil {
		return nil, err
	}
	if len(sel.capsules) == 0 {
		return nil, &CompositionError{
			Reason: ReasonNoCapsules,
			Detail: "specify at least one bundle or capsule",
		}
	}

	policy := req.Incompatibility
	if policy == "" {
		policy = IncompatibilityWarn
	}
	conflicts := incompatiblePairs(sel.capsules)
	if len(conflicts) > 0 && policy == IncompatibilityError {
		return nil, &CompositionError{Reason: ReasonIncompatible, Detail: conflicts[0]}
	}

	proj, err := projection.Parse(profile.Response.Projection)
	if err != nil {
		// The linter rejects unparseable projections at load, so this only
		// fires for profiles constructed in code.
		return nil, fmt.Errorf("profile %s projection: %w", profile.ID, err)
	}

	prompt := render(profile, sel.capsules, proj, renderOptions{
		compact:           req.Compact,
		controlTable:      req.ControlTable,
		priorityOverrides: sel.priorityOverrides,
	})

	resolved := make([]capsule.ResolvedCapsule, len(sel.capsules))
	for i, cap := range sel.capsules {
		digest, err := provenance.ContentDigest(cap)
		if err != nil {
			return nil, fmt.Errorf("digesting capsule %s: %w", cap.ID, err)
		}
		resolved[i] = capsule.ResolvedCapsule{ID: cap.ID, Version: cap.Version, Digest: digest}
	}

	digest, err := compositionDigest(profile.ID, resolved)
	if err != nil {
		return nil, err
	}

	manifest := &capsule.Manifest{
		ProfileID:         profile.ID,
		ProfileVersion:    profile.Version,
		Bundles:           sel.bundleRefs,
		ResolvedCapsules:  resolved,
		CompositionDigest: digest,
		ComposerVersion:   ComposerVersion,
		GeneratedAt:       time.Now().UTC().Format(time.RFC3339),
	}

	logging.Compose("composed %s: %d capsules, digest %s",
		profile.ID, len(resolved), digest[:12])

	return &Result{
		Prompt:   prompt,
		Manifest: manifest,
		Warnings: append(sel.warnings, conflictWarnings(conflicts, policy)...),
	}, nil
}

// selection is the flattened outcome of bundle and capsule resolution.
type selection struct {
	capsules          []*capsule.Capsule
	bundleRefs        []capsule.BundleRef
	priorityOverrides map[string]int
	warnings          []string
}

// resolveSelection gathers capsules from bundles in declaration order, then
// explicit extras, deduplicating on first occurrence. Bundle excludes are
// applied over the whole set, then any explicit ordering.
func (c *Composer) resolveSelection(req Request) (*selection, error) {
	sel := &selection{priorityOverrides: map[string]int{}}
	seen := make(map[string]bool)
	excludes := make(map[string]bool)
	var explicitOrder []string

	for _, name := range req.Bundles {
		b, ok := c.store.Bundle(name)
		if !ok {
			var known []string
			for _, kb := range c.store.Bundles() {
				known = append(known, kb.Name)
			}
			return nil, &ResolutionError{Kind: "bundle", Name: name, Suggestions: suggest(name, known)}
		}
		sel.bundleRefs = append(sel.bundleRefs, capsule.BundleRef{Name: b.Name, Version: b.Version})
		for _, id := range b.Excludes {
			excludes[id] = true
		}
		explicitOrder = append(explicitOrder, b.Order...)
		for id, pri := range b.PriorityOverrides {
			sel.priorityOverrides[id] = pri
		}
		for _, id := range b.Capsules {
			cap, ok := c.store.Capsule(id)
			if !ok {
				// Quarantined or missing; the bundle stays usable.
				sel.warnings = append(sel.warnings,
					fmt.Sprintf("bundle %s references unknown capsule %s", b.Name, id))
				logging.ComposeWarn("bundle %s references unknown capsule %s", b.Name, id)
				continue
			}
			if !seen[id] {
				sel.capsules = append(sel.capsules, cap)
				seen[id] = true
			}
		}
	}

	for _, id := range req.Capsules {
		cap, ok := c.store.Capsule(id)
		if !ok {
			var known []string
			for _, kc := range c.store.Capsules() {
				known = append(known, kc.ID)
			}
			return nil, &ResolutionError{Kind: "capsule", Name: id, Suggestions: suggest(id, known)}
		}
		if !seen[id] {
			sel.capsules = append(sel.capsules, cap)
			seen[id] = true
		}
	}

	if len(excludes) > 0 {
		kept := sel.capsules[:0]
		for _, cap := range sel.capsules {
			if !excludes[cap.ID] {
				kept = append(kept, cap)
			}
		}
		sel.capsules = kept
	}

	if len(explicitOrder) > 0 {
		sel.capsules = reorder(sel.capsules, explicitOrder)
	}

	return sel, nil
}

// reorder puts capsules named in order first (in that order), then the
// remainder in their original order.
func reorder(capsules []*capsule.Capsule, order []string) []*capsule.Capsule {
	byID := make(map[string]*capsule.Capsule, len(capsules))
	for _, cap := range capsules {
		byID[cap.ID] = cap
	}
	out := make([]*capsule.Capsule, 0, len(capsules))
	for _, id := range order {
		if cap, ok := byID[id]; ok {
			out = append(out, cap)
			delete(byID, id)
		}
	}
	for _, cap := range capsules {
		if _, remaining := byID[cap.ID]; remaining {
			out = append(out, cap)
		}
	}
	return out
}

// incompatiblePairs lists conflicts where one resolved capsule declares
// another resolved capsule in incompatible_with.
func incompatiblePairs(capsules []*capsule.Capsule) []string {
	inSet := make(map[string]bool, len(capsules))
	for _, cap := range capsules {
		inSet[cap.ID] = true
	}
	reported := make(map[string]bool)
	var out []string
	for _, cap := range capsules {
		for _, other := range cap.IncompatibleWith {
			if !inSet[other] {
				continue
			}
			a, b := cap.ID, other
			if b < a {
				a, b = b, a
			}
			key := a + "|" + b
			if !reported[key] {
				reported[key] = true
				out = append(out, fmt.Sprintf("%s is incompatible with %s", a, b))
			}
		}
	}
	return out
}

func conflictWarnings(conflicts []string, policy IncompatibilityPolicy) []string {
	if policy != IncompatibilityWarn {
		return nil
	}
	for _, conflict := range conflicts {
		logging.ComposeWarn("%s", conflict)
	}
	return conflicts
}

// digestInput is the canonical form hashed into composition_digest. It
// deliberately excludes generated_at and everything else that could vary
// between identical compositions.
type digestInput struct {
	ProfileID string                    `json:"profile_id"`
	Capsules  []capsule.ResolvedCapsule `json:"capsules"`
}

func compositionDigest(profileID string, resolved []capsule.ResolvedCapsule) (string, error) {
	data, err := provenance.CanonicalJSON(digestInput{ProfileID: profileID, Capsules: resolved})
	if err != nil {
		return "", fmt.Errorf("canonicalizing composition: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
