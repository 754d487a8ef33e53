// Package projection implements the field-selection mini-language applied to
// capsules before rendering. A profile's projection is parsed once, at load
// time, into a typed form: an ordered list of (field path, limit) selectors
// plus a render template map. Rendering never re-parses selector strings.
package projection

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
)

// Field paths understood by the selector grammar.
const (
	FieldTitle       = "title"
	FieldStatement   = "statement"
	FieldAssumptions = "assumptions"
	FieldSocratic    = "pedagogy.socratic"
	FieldAphorisms   = "pedagogy.aphorisms"
)

// Render template names and their defaults.
const (
	TemplateCapsuleHeader     = "capsule_header"
	TemplateAssumptionBullet  = "assumption_bullet"
	TemplateSocraticBullet    = "socratic_bullet"
	TemplateAphorismBullet    = "aphorism_bullet"
	TemplateEnforcementFooter = "enforcement_footer"
)

var defaultTemplates = map[string]string{
	TemplateCapsuleHeader:     "BEGIN CAPSULE id={id} version={version} domain={domain}",
	TemplateAssumptionBullet:  "  - {text}",
	TemplateSocraticBullet:    "  - {text}",
	TemplateAphorismBullet:    "  - {text}",
	TemplateEnforcementFooter: "ENFORCEMENT: Ensure outputs satisfy this capsule; otherwise abstain and request the minimal missing info.",
}

// DefaultListLimit is applied to every list field when a profile declares
// no projection. Profiles authored before projections existed render
// through this default, so it must stay byte-stable.
const DefaultListLimit = 5

// selectorPattern accepts a lowercase dotted field path with an optional
// [:N] slice suffix.
var selectorPattern = regexp.MustCompile(`^([a-z_.]+)(?:\[:([0-9]+)\])?$`)

// FieldSelector is one parsed include entry. Limit zero means unlimited.
type FieldSelector struct {
	Path  string
	Limit int
}

// Projection is the typed, validated form of a profile's projection spec.
type Projection struct {
	selectors []FieldSelector
	byPath    map[string]FieldSelector
	templates map[string]string
	isDefault bool
}

// ParseSelector parses a single include entry. The limit, when present,
// must be at least 1; a zero or unparseable limit is a configuration error.
func ParseSelector(spec string) (FieldSelector, error) {
	m := selectorPattern.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil {
		return FieldSelector{}, fmt.Errorf("invalid field selector %q", spec)
	}
	sel := FieldSelector{Path: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 {
			return FieldSelector{}, fmt.Errorf("invalid slice limit in selector %q: must be >= 1", spec)
		}
		sel.Limit = n
	}
	switch sel.Path {
	case FieldTitle, FieldStatement, FieldAssumptions, FieldSocratic, FieldAphorisms:
	default:
		return FieldSelector{}, fmt.Errorf("unknown field path %q in selector", sel.Path)
	}
	return sel, nil
}

// Parse converts a raw projection spec into its typed form. A nil spec, or
// one with an empty include list, yields the default projection: all scalar
// fields plus the first DefaultListLimit items of each list field.
func Parse(spec *capsule.ProjectionSpec) (*Projection, error) {
	if spec == nil || len(spec.Include) == 0 {
		p := Default()
		if spec != nil {
			for name, tmpl := range spec.Render {
				if err := checkTemplateName(name); err != nil {
					return nil, err
				}
				p.templates[name] = tmpl
			}
		}
		return p, nil
	}

	p := &Projection{
		byPath:    make(map[string]FieldSelector),
		templates: make(map[string]string),
	}
	for _, raw := range spec.Include {
		sel, err := ParseSelector(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := p.byPath[sel.Path]; dup {
			return nil, fmt.Errorf("duplicate field selector for %q", sel.Path)
		}
		p.selectors = append(p.selectors, sel)
		p.byPath[sel.Path] = sel
	}
	for name, tmpl := range spec.Render {
		if err := checkTemplateName(name); err != nil {
			return nil, err
		}
		p.templates[name] = tmpl
	}
	return p, nil
}

func checkTemplateName(name string) error {
	if _, ok := defaultTemplates[name]; !ok {
		return fmt.Errorf("unknown render template %q", name)
	}
	return nil
}

// Default returns the projection applied when a profile declares none.
func Default() *Projection {
	p := &Projection{
		byPath:    make(map[string]FieldSelector),
		templates: make(map[string]string),
		isDefault: true,
	}
	for _, sel := range []FieldSelector{
		{Path: FieldTitle},
		{Path: FieldStatement},
		{Path: FieldAssumptions, Limit: DefaultListLimit},
		{Path: FieldSocratic, Limit: DefaultListLimit},
		{Path: FieldAphorisms, Limit: DefaultListLimit},
	} {
		p.selectors = append(p.selectors, sel)
		p.byPath[sel.Path] = sel
	}
	return p
}

// IsDefault reports whether this is the implicit default projection.
func (p *Projection) IsDefault() bool {
	return p.isDefault
}

// Selectors returns the parsed include list in declaration order.
func (p *Projection) Selectors() []FieldSelector {
	out := make([]FieldSelector, len(p.selectors))
	copy(out, p.selectors)
	return out
}

// Template returns the render template for name, falling back to the
// built-in default.
func (p *Projection) Template(name string) string {
	if t, ok := p.templates[name]; ok {
		return t
	}
	return defaultTemplates[name]
}

// View is a capsule filtered through a projection, ready for rendering.
// Identity fields (id, version, domain) are always present; everything
// else appears only if the projection selects it.
type View struct {
	ID          string
	Version     string
	Domain      string
	Title       string
	Statement   string
	Assumptions []string
	Socratic    []string
	Aphorisms   []string
}

// Apply filters a capsule through the projection. Absent optional fields
// are silently omitted.
func (p *Projection) Apply(c *capsule.Capsule) View {
	v := View{ID: c.ID, Version: c.Version, Domain: c.Domain}
	for _, sel := range p.selectors {
		switch sel.Path {
		case FieldTitle:
			v.Title = c.Title
		case FieldStatement:
			v.Statement = c.Statement
		case FieldAssumptions:
			v.Assumptions = sliceLimit(c.Assumptions, sel.Limit)
		case FieldSocratic:
			v.Socratic = sliceLimit(c.Socratic(), sel.Limit)
		case FieldAphorisms:
			v.Aphorisms = sliceLimit(c.Aphorisms(), sel.Limit)
		}
	}
	return v
}

func sliceLimit(items []string, limit int) []string {
	if limit <= 0 || limit >= len(items) {
		return items
	}
	return items[:limit]
}

// ExpandHeader substitutes capsule identity placeholders into a header
// template: {id}, {version}, {domain}.
func ExpandHeader(template string, v View) string {
	r := strings.NewReplacer(
		"{id}", orUnknown(v.ID),
		"{version}", orUnknown(v.Version),
		"{domain}", orUnknown(v.Domain),
	)
	return r.Replace(template)
}

// ExpandBullet substitutes {text} into a bullet template.
func ExpandBullet(template, text string) string {
	return strings.ReplaceAll(template, "{text}", text)
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
