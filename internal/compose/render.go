package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/projection"
)

type renderOptions struct {
	compact           bool
	controlTable      bool
	priorityOverrides map[string]int
}

// render produces the final prompt text. Output is a pure function of the
// profile, the ordered capsule list, and the options; every byte is
// accounted for so identical inputs render identically everywhere.
func render(profile *capsule.Profile, capsules []*capsule.Capsule, proj *projection.Projection, opts renderOptions) string {
	response := profile.Response

	// A system_block replaces per-capsule synthesis entirely. Only
	// profile-level placeholders are substituted.
	if response.SystemBlock != "" {
		block := strings.NewReplacer(
			"{id}", profile.ID,
			"{version}", profile.Version,
			"{title}", profile.Title,
			"{format}", response.Format,
			"{policy}", response.Policy,
		).Replace(response.SystemBlock)
		return strings.TrimSpace(block) + "\n"
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("SYSTEM: Profile=%s (id=%s, v=%s)",
		orUnknown(profile.Title), orUnknown(profile.ID), orUnknown(profile.Version)))
	if response.Policy != "" {
		lines = append(lines, "POLICY: "+strings.TrimSpace(response.Policy))
	}
	if response.Format != "" {
		lines = append(lines, "FORMAT: "+response.Format)
	}

	if response.SchemaRef != "" {
		lines = append(lines, "", "SYSTEM: SCHEMA_REF "+response.SchemaRef)
	}

	if opts.controlTable {
		lines = append(lines, "")
		lines = append(lines, controlTable(capsules, opts.priorityOverrides)...)
	}

	lines = append(lines, "", "SYSTEM: Capsule Rules (Selected)")

	for _, c := range capsules {
		view := proj.Apply(c)

		lines = append(lines, projection.ExpandHeader(proj.Template(projection.TemplateCapsuleHeader), view))
		if view.Title != "" {
			lines = append(lines, "TITLE: "+view.Title)
		}
		if view.Statement != "" {
			lines = append(lines, "STATEMENT: "+view.Statement)
		}
		if len(view.Assumptions) > 0 {
			lines = append(lines, "ASSUMPTIONS:")
			tmpl := proj.Template(projection.TemplateAssumptionBullet)
			for _, a := range view.Assumptions {
				lines = append(lines, projection.ExpandBullet(tmpl, a))
			}
		}
		if !opts.compact {
			if len(view.Socratic) > 0 {
				lines = append(lines, "SOCRATIC:")
				tmpl := proj.Template(projection.TemplateSocraticBullet)
				for _, text := range view.Socratic {
					lines = append(lines, projection.ExpandBullet(tmpl, strings.TrimSpace(text)))
				}
			}
			if len(view.Aphorisms) > 0 {
				lines = append(lines, "APHORISMS:")
				tmpl := proj.Template(projection.TemplateAphorismBullet)
				for _, text := range view.Aphorisms {
					lines = append(lines, projection.ExpandBullet(tmpl, strings.TrimSpace(text)))
				}
			}
		}
		lines = append(lines, proj.Template(projection.TemplateEnforcementFooter))
		lines = append(lines, "END CAPSULE", "")
	}

	return strings.TrimRight(strings.Join(lines, "\n"), " \t\n") + "\n"
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

// Known capsule ids carry curated priorities and one-line directives in
// the control table; everything else falls back to a generic row.
var defaultPriorities = map[string]int{
	"llm.safety_refusal_guard_v1": 1,
	"llm.pii_redaction_guard_v1":  2,
	"llm.citation_required_v1":    3,
	"llm.plan_verify_answer_v1":   4,
}

var directiveTemplates = map[string]string{
	"llm.safety_refusal_guard_v1": "FORBID unsafe outputs",
	"llm.pii_redaction_guard_v1":  "FORBID raw PII",
	"llm.citation_required_v1":    "MUST cite or abstain",
	"llm.plan_verify_answer_v1":   "MUST Plan→Verify→Answer",
}

const defaultPriority = 5

type controlRow struct {
	priority  int
	id        string
	directive string
}

// controlTable compiles a compact priority/directive summary, sorted by
// priority then id.
func controlTable(capsules []*capsule.Capsule, overrides map[string]int) []string {
	if len(capsules) == 0 {
		return nil
	}
	rows := make([]controlRow, 0, len(capsules))
	for _, c := range capsules {
		pri, ok := defaultPriorities[c.ID]
		if !ok {
			pri = defaultPriority
		}
		if override, ok := overrides[c.ID]; ok {
			pri = override
		}
		directive, ok := directiveTemplates[c.ID]
		if !ok {
			directive = "SEE capsule statement"
		}
		rows = append(rows, controlRow{priority: pri, id: c.ID, directive: directive})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].priority != rows[j].priority {
			return rows[i].priority < rows[j].priority
		}
		return rows[i].id < rows[j].id
	})

	lines := []string{
		"SYSTEM: Capsule Control Table (compiled)",
		"| Pri | Capsule ID                           | Directive                  |",
		"|-----|--------------------------------------|----------------------------|",
	}
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("| %3d | %-36s | %-26s |", row.priority, row.id, row.directive))
	}
	return lines
}
