// Package store loads and validates capsule, bundle, and profile records
// from a truth-capsules directory tree (root/capsules/**, root/bundles/,
// root/profiles/). The loaded Store is an immutable snapshot: construction
// happens once, every hard lint error quarantines only the offending record,
// and the result is safe for unsynchronized concurrent reads.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
)

// Options controls loading behavior.
type Options struct {
	// Strict escalates unicode-escape warnings to errors and requires
	// review status approved on every capsule.
	Strict bool
}

// Store is the validated, immutable record set. Records with hard lint
// errors are quarantined: they appear in the lint report but are not
// resolvable through the store.
type Store struct {
	root string

	capsules  map[string]*capsule.Capsule
	capOrder  []string
	bundles   map[string]*capsule.Bundle
	bunOrder  []string
	profiles  map[string]*capsule.Profile
	profOrder []string
}

// Root returns the directory the store was loaded from.
func (s *Store) Root() string { return s.root }

// Capsule returns the capsule with the given id.
func (s *Store) Capsule(id string) (*capsule.Capsule, bool) {
	c, ok := s.capsules[id]
	return c, ok
}

// Capsules returns all usable capsules in deterministic load order.
func (s *Store) Capsules() []*capsule.Capsule {
	out := make([]*capsule.Capsule, 0, len(s.capOrder))
	for _, id := range s.capOrder {
		out = append(out, s.capsules[id])
	}
	return out
}

// Bundle returns the bundle with the given name.
func (s *Store) Bundle(name string) (*capsule.Bundle, bool) {
	b, ok := s.bundles[name]
	return b, ok
}

// Bundles returns all usable bundles in deterministic load order.
func (s *Store) Bundles() []*capsule.Bundle {
	out := make([]*capsule.Bundle, 0, len(s.bunOrder))
	for _, name := range s.bunOrder {
		out = append(out, s.bundles[name])
	}
	return out
}

// Profile returns the profile with the given id (exact match only;
// alias resolution is the composer's job).
func (s *Store) Profile(id string) (*capsule.Profile, bool) {
	p, ok := s.profiles[id]
	return p, ok
}

// Profiles returns all usable profiles in deterministic load order.
func (s *Store) Profiles() []*capsule.Profile {
	out := make([]*capsule.Profile, 0, len(s.profOrder))
	for _, id := range s.profOrder {
		out = append(out, s.profiles[id])
	}
	return out
}

// ProfileIDs returns the ids of all usable profiles, sorted.
func (s *Store) ProfileIDs() []string {
	ids := make([]string, len(s.profOrder))
	copy(ids, s.profOrder)
	sort.Strings(ids)
	return ids
}

// WitnessCode resolves a witness's script text: inline code wins, else the
// code_ref file is read relative to the store root.
func (s *Store) WitnessCode(w *capsule.WitnessSpec) (string, error) {
	if w.Code != "" {
		return w.Code, nil
	}
	if w.CodeRef == "" {
		return "", fmt.Errorf("witness %q has neither code nor code_ref", w.Name)
	}
	path := filepath.Join(s.root, filepath.FromSlash(w.CodeRef))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading witness code_ref %s: %w", w.CodeRef, err)
	}
	return string(data), nil
}

// Load reads and lints all records under root. Parse failures and hard lint
// errors never abort the load; they quarantine the record and show up in
// the returned report. The error return is reserved for an unusable root.
func Load(root string, opts Options) (*Store, *LintReport, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store load")
	defer timer.Stop()

	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("store root %s is not a directory", root)
	}

	s := &Store{
		root:     root,
		capsules: make(map[string]*capsule.Capsule),
		bundles:  make(map[string]*capsule.Bundle),
		profiles: make(map[string]*capsule.Profile),
	}
	report := &LintReport{}
	linter := &Linter{Strict: opts.Strict}

	loadCapsules(s, report, linter, root)
	loadBundles(s, report, linter, root)
	loadProfiles(s, report, linter, root)

	logging.Store("loaded store from %s: %d capsules, %d bundles, %d profiles, %d errors, %d warnings",
		root, len(s.capOrder), len(s.bunOrder), len(s.profOrder), report.ErrorCount(), report.WarningCount())

	return s, report, nil
}

func loadCapsules(s *Store, report *LintReport, linter *Linter, root string) {
	files := yamlFiles(filepath.Join(root, "capsules"), true)
	for _, path := range files {
		item := LintItem{File: path}

		raw, err := os.ReadFile(path)
		if err != nil {
			item.Errors = append(item.Errors, Issue{Message: fmt.Sprintf("read error: %v", err)})
			report.Items = append(report.Items, item)
			continue
		}

		var c capsule.Capsule
		if err := yaml.Unmarshal(raw, &c); err != nil {
			item.Errors = append(item.Errors, Issue{Message: fmt.Sprintf("parse error: %v", err)})
			report.Items = append(report.Items, item)
			continue
		}
		if c.ID == "" {
			c.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		c.SourceFile = path
		item.ID = c.ID

		errs, warns := linter.LintCapsule(&c, raw)
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			if issue := domainPathIssue(filepath.ToSlash(rel), c.Domain); issue != nil {
				warns = append(warns, *issue)
			}
		}
		if len(errs) == 0 {
			// Structural checks the field linter does not cover, such as
			// self-incompatibility and duplicate witness names.
			if err := c.Validate(); err != nil {
				errs = append(errs, Issue{Message: err.Error()})
			}
		}
		item.Errors = errs
		item.Warnings = warns
		report.Items = append(report.Items, item)

		if len(errs) > 0 {
			logging.StoreWarn("quarantined capsule %s (%s): %d errors", c.ID, path, len(errs))
			continue
		}
		if _, dup := s.capsules[c.ID]; dup {
			item.Errors = append(item.Errors, Issue{Field: "id", Message: fmt.Sprintf("duplicate capsule id %q", c.ID)})
			report.Items[len(report.Items)-1] = item
			continue
		}
		s.capsules[c.ID] = &c
		s.capOrder = append(s.capOrder, c.ID)
	}
}

func loadBundles(s *Store, report *LintReport, linter *Linter, root string) {
	for _, path := range yamlFiles(filepath.Join(root, "bundles"), false) {
		item := LintItem{File: path}

		raw, err := os.ReadFile(path)
		if err != nil {
			item.Errors = append(item.Errors, Issue{Message: fmt.Sprintf("read error: %v", err)})
			report.Items = append(report.Items, item)
			continue
		}

		var b capsule.Bundle
		if err := yaml.Unmarshal(raw, &b); err != nil {
			item.Errors = append(item.Errors, Issue{Message: fmt.Sprintf("parse error: %v", err)})
			report.Items = append(report.Items, item)
			continue
		}
		if b.Name == "" {
			b.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		b.SourceFile = path
		item.ID = b.Name

		item.Errors = linter.LintBundle(&b)
		report.Items = append(report.Items, item)
		if len(item.Errors) > 0 {
			logging.StoreWarn("quarantined bundle %s (%s)", b.Name, path)
			continue
		}
		if _, dup := s.bundles[b.Name]; dup {
			item.Errors = append(item.Errors, Issue{Field: "name", Message: fmt.Sprintf("duplicate bundle name %q", b.Name)})
			report.Items[len(report.Items)-1] = item
			continue
		}
		s.bundles[b.Name] = &b
		s.bunOrder = append(s.bunOrder, b.Name)
	}
}

func loadProfiles(s *Store, report *LintReport, linter *Linter, root string) {
	for _, path := range yamlFiles(filepath.Join(root, "profiles"), false) {
		item := LintItem{File: path}

		raw, err := os.ReadFile(path)
		if err != nil {
			item.Errors = append(item.Errors, Issue{Message: fmt.Sprintf("read error: %v", err)})
			report.Items = append(report.Items, item)
			continue
		}

		var p capsule.Profile
		if err := yaml.Unmarshal(raw, &p); err != nil {
			item.Errors = append(item.Errors, Issue{Message: fmt.Sprintf("parse error: %v", err)})
			report.Items = append(report.Items, item)
			continue
		}
		if p.ID == "" {
			p.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		p.SourceFile = path
		item.ID = p.ID

		item.Errors = linter.LintProfile(&p)
		report.Items = append(report.Items, item)
		if len(item.Errors) > 0 {
			logging.StoreWarn("quarantined profile %s (%s)", p.ID, path)
			continue
		}
		if _, dup := s.profiles[p.ID]; dup {
			item.Errors = append(item.Errors, Issue{Field: "id", Message: fmt.Sprintf("duplicate profile id %q", p.ID)})
			report.Items[len(report.Items)-1] = item
			continue
		}
		s.profiles[p.ID] = &p
		s.profOrder = append(s.profOrder, p.ID)
	}
}

// yamlFiles lists YAML files under dir, sorted for deterministic load
// order. Missing directories yield an empty list, not an error.
func yamlFiles(dir string, recursive bool) []string {
	var files []string
	walk := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	}
	_ = filepath.Walk(dir, walk)
	sort.Strings(files)
	return files
}
