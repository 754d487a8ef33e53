package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/projection"
)

// Issue is one lint finding for a record.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// LintItem is the per-file lint result.
type LintItem struct {
	File     string  `json:"file"`
	ID       string  `json:"id,omitempty"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// LintReport aggregates lint results over a load pass.
type LintReport struct {
	Items []LintItem `json:"items"`
}

// ErrorCount returns the total number of hard errors in the report.
func (r *LintReport) ErrorCount() int {
	n := 0
	for _, item := range r.Items {
		n += len(item.Errors)
	}
	return n
}

// WarningCount returns the total number of warnings in the report.
func (r *LintReport) WarningCount() int {
	n := 0
	for _, item := range r.Items {
		n += len(item.Warnings)
	}
	return n
}

// unicodeEscapePattern detects numeric escape sequences left in raw YAML
// where a literal character was intended (e.g. \u2265 instead of a real
// greater-or-equal sign).
var unicodeEscapePattern = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)

// Linter validates capsule records against the schema rules. Strict mode
// escalates unicode-escape warnings to errors and requires review status
// approved.
type Linter struct {
	Strict bool
}

// requiredCapsuleFields are checked for presence on every capsule.
var requiredCapsuleFields = []string{"id", "version", "domain", "statement", "provenance"}

// LintCapsule validates a single capsule. raw is the original file text,
// used for the unicode-escape check. Returns hard errors and warnings.
func (l *Linter) LintCapsule(c *capsule.Capsule, raw []byte) (errs, warns []Issue) {
	if unicodeEscapePattern.Match(raw) {
		issue := Issue{
			Message: `contains unicode escape sequences (e.g. \u2265); use actual UTF-8 characters instead`,
		}
		if l.Strict {
			errs = append(errs, issue)
		} else {
			warns = append(warns, issue)
		}
	}

	for _, field := range requiredCapsuleFields {
		var missing bool
		switch field {
		case "id":
			missing = c.ID == ""
		case "version":
			missing = c.Version == ""
		case "domain":
			missing = c.Domain == ""
		case "statement":
			missing = c.Statement == ""
		case "provenance":
			missing = provenanceEmpty(&c.Provenance)
		}
		if missing {
			errs = append(errs, Issue{Field: field, Message: "missing required key"})
		}
	}

	if c.ID != "" && !capsule.ValidID(c.ID) {
		errs = append(errs, Issue{
			Field:   "id",
			Message: "must match pattern domain.name_vN or domain.name_vN_suffix (e.g. llm.citation_v1)",
		})
	}

	for i, p := range c.Pedagogy {
		switch p.Kind {
		case capsule.PedagogySocratic, capsule.PedagogyAphorism:
		default:
			warns = append(warns, Issue{
				Field:   fmt.Sprintf("pedagogy[%d].kind", i),
				Message: fmt.Sprintf("%q not in [Aphorism Socratic]", p.Kind),
			})
		}
		if strings.TrimSpace(p.Text) == "" {
			errs = append(errs, Issue{
				Field:   fmt.Sprintf("pedagogy[%d].text", i),
				Message: "must be a non-empty string",
			})
		}
	}

	errs = append(errs, l.lintWitnesses(c)...)

	if status := c.Provenance.Review.Status; status != "" {
		valid := false
		for _, s := range capsule.AllReviewStatuses() {
			if s == status {
				valid = true
				break
			}
		}
		if !valid {
			errs = append(errs, Issue{
				Field:   "provenance.review.status",
				Message: fmt.Sprintf("%q not in [approved deprecated draft in_review]", status),
			})
		}
	}
	if l.Strict && c.Provenance.Review.Status != capsule.ReviewApproved {
		errs = append(errs, Issue{
			Field:   "provenance.review.status",
			Message: fmt.Sprintf("strict mode requires approved (found %q)", c.Provenance.Review.Status),
		})
	}

	for _, field := range []struct{ name, value string }{
		{"provenance.author", c.Provenance.Author},
		{"provenance.org", c.Provenance.Org},
		{"provenance.license", c.Provenance.License},
		{"provenance.created", c.Provenance.Created},
	} {
		if field.value == "" {
			warns = append(warns, Issue{Field: field.name, Message: "is recommended"})
		}
	}

	return errs, warns
}

func provenanceEmpty(p *capsule.Provenance) bool {
	return p.Author == "" && p.Org == "" && p.License == "" &&
		p.Created == "" && p.Updated == "" &&
		p.Review.Status == "" && p.Signing == nil
}

func (l *Linter) lintWitnesses(c *capsule.Capsule) []Issue {
	var errs []Issue
	for i, w := range c.Witnesses {
		field := func(name string) string { return fmt.Sprintf("witnesses[%d].%s", i, name) }

		if w.Name == "" {
			errs = append(errs, Issue{Field: field("name"), Message: "must be a non-empty string"})
		}
		if w.Language == "" {
			errs = append(errs, Issue{Field: field("language"), Message: "is required"})
		} else {
			valid := false
			for _, lang := range capsule.AllWitnessLanguages() {
				if lang == w.Language {
					valid = true
					break
				}
			}
			if !valid {
				errs = append(errs, Issue{
					Field:   field("language"),
					Message: fmt.Sprintf("%q not in [bash node python shell]", w.Language),
				})
			}
		}
		if w.Code == "" && w.CodeRef == "" {
			errs = append(errs, Issue{Field: field("code"), Message: "must be a non-empty string (or code_ref)"})
		}
		if w.TimeoutMs < 0 {
			errs = append(errs, Issue{Field: field("timeout_ms"), Message: "must be a positive integer"})
		}
		if w.MemoryMB < 0 {
			errs = append(errs, Issue{Field: field("memory_mb"), Message: "must be a positive integer"})
		}
		if w.FSMode != "" && w.FSMode != capsule.FSReadOnly && w.FSMode != capsule.FSReadWrite {
			errs = append(errs, Issue{
				Field:   field("fs_mode"),
				Message: fmt.Sprintf("%q not in [ro rw]", w.FSMode),
			})
		}
	}
	return errs
}

// domainPathIssue warns when a capsule sits in a subdirectory that does not
// match its declared domain.
func domainPathIssue(relPath, domain string) *Issue {
	if domain == "" {
		return nil
	}
	parts := strings.Split(strings.ReplaceAll(relPath, "\\", "/"), "/")
	// capsules/<subdir>/<file> is the only shape the check applies to
	if len(parts) < 3 || parts[0] != "capsules" {
		return nil
	}
	if subdir := parts[1]; subdir != domain {
		return &Issue{
			Field:   "domain",
			Message: fmt.Sprintf("domain %q but file is in %q subdirectory; consider moving to capsules/%s/", domain, subdir, domain),
		}
	}
	return nil
}

// LintProfile validates a profile record, including a parse of its
// projection so that bad selectors are a load-time error, not a render-time
// surprise.
func (l *Linter) LintProfile(p *capsule.Profile) (errs []Issue) {
	if p.ID == "" {
		errs = append(errs, Issue{Field: "id", Message: "missing required key"})
	}
	if p.Response.SystemBlock != "" && p.Response.Projection != nil && len(p.Response.Projection.Include) > 0 {
		errs = append(errs, Issue{
			Field:   "response",
			Message: "system_block and projection.include are mutually exclusive",
		})
	}
	if _, err := projection.Parse(p.Response.Projection); err != nil {
		errs = append(errs, Issue{Field: "response.projection", Message: err.Error()})
	}
	return errs
}

// LintBundle validates a bundle record.
func (l *Linter) LintBundle(b *capsule.Bundle) (errs []Issue) {
	if b.Name == "" {
		errs = append(errs, Issue{Field: "name", Message: "missing required key"})
	}
	if len(b.Capsules) == 0 {
		errs = append(errs, Issue{Field: "capsules", Message: "must list at least one capsule id"})
	}
	seen := make(map[string]bool, len(b.Capsules))
	for i, id := range b.Capsules {
		if seen[id] {
			errs = append(errs, Issue{
				Field:   fmt.Sprintf("capsules[%d]", i),
				Message: fmt.Sprintf("duplicate capsule id %q", id),
			})
		}
		seen[id] = true
	}
	return errs
}
