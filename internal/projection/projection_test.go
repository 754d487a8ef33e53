package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		spec    string
		path    string
		limit   int
		wantErr bool
	}{
		{spec: "title", path: "title"},
		{spec: "assumptions[:5]", path: "assumptions", limit: 5},
		{spec: "pedagogy.socratic[:3]", path: "pedagogy.socratic", limit: 3},
		{spec: "assumptions[:0]", wantErr: true},
		{spec: "assumptions[:-1]", wantErr: true},
		{spec: "Title", wantErr: true},
		{spec: "nonexistent_field", wantErr: true},
		{spec: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			sel, err := ParseSelector(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path, sel.Path)
			assert.Equal(t, tt.limit, sel.Limit)
		})
	}
}

func TestParseRejectsBadLimitAtLoadTime(t *testing.T) {
	_, err := Parse(&capsule.ProjectionSpec{Include: []string{"assumptions[:0]"}})
	assert.Error(t, err, "zero limit is a configuration error caught at parse time")
}

func TestParseRejectsUnknownTemplate(t *testing.T) {
	_, err := Parse(&capsule.ProjectionSpec{
		Include: []string{"statement"},
		Render:  map[string]string{"nope": "{text}"},
	})
	assert.Error(t, err)
}

func testCapsule() *capsule.Capsule {
	return &capsule.Capsule{
		ID:          "reasoning.idempotency_v1",
		Version:     "1.0.0",
		Domain:      "reasoning",
		Title:       "Idempotent retries",
		Statement:   "Retried operations must be idempotent.",
		Assumptions: []string{"a", "b", "c"},
		Pedagogy: []capsule.PedagogyEntry{
			{Kind: capsule.PedagogySocratic, Text: "q1"},
			{Kind: capsule.PedagogySocratic, Text: "q2"},
			{Kind: capsule.PedagogyAphorism, Text: "m1"},
		},
	}
}

func TestApplySlicing(t *testing.T) {
	p, err := Parse(&capsule.ProjectionSpec{Include: []string{"statement", "assumptions[:2]"}})
	require.NoError(t, err)

	v := p.Apply(testCapsule())
	assert.Equal(t, []string{"a", "b"}, v.Assumptions)
	assert.Equal(t, "Retried operations must be idempotent.", v.Statement)
	assert.Empty(t, v.Socratic, "unselected fields are omitted")
	assert.Empty(t, v.Title)
}

func TestApplyPedagogyKindFilter(t *testing.T) {
	p, err := Parse(&capsule.ProjectionSpec{Include: []string{"pedagogy.socratic[:1]", "pedagogy.aphorisms"}})
	require.NoError(t, err)

	v := p.Apply(testCapsule())
	assert.Equal(t, []string{"q1"}, v.Socratic)
	assert.Equal(t, []string{"m1"}, v.Aphorisms)
}

func TestDefaultProjection(t *testing.T) {
	p, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, p.IsDefault())

	c := testCapsule()
	c.Assumptions = []string{"1", "2", "3", "4", "5", "6", "7"}
	v := p.Apply(c)

	assert.Len(t, v.Assumptions, DefaultListLimit)
	assert.Equal(t, c.Title, v.Title)
	assert.Equal(t, c.Statement, v.Statement)
}

func TestAbsentFieldsSilentlyOmitted(t *testing.T) {
	p, err := Parse(&capsule.ProjectionSpec{Include: []string{"title", "assumptions[:2]"}})
	require.NoError(t, err)

	v := p.Apply(&capsule.Capsule{ID: "x.y_v1", Version: "1.0.0", Domain: "x"})
	assert.Empty(t, v.Title)
	assert.Empty(t, v.Assumptions)
}

func TestTemplateOverrideAndDefault(t *testing.T) {
	p, err := Parse(&capsule.ProjectionSpec{
		Include: []string{"statement"},
		Render:  map[string]string{TemplateAssumptionBullet: "* {text}"},
	})
	require.NoError(t, err)

	assert.Equal(t, "* {text}", p.Template(TemplateAssumptionBullet))
	assert.Equal(t, defaultTemplates[TemplateCapsuleHeader], p.Template(TemplateCapsuleHeader))
}

func TestExpandHeader(t *testing.T) {
	v := View{ID: "a.b_v1", Version: "1.0.0", Domain: "a"}
	got := ExpandHeader("BEGIN CAPSULE id={id} version={version} domain={domain}", v)
	assert.Equal(t, "BEGIN CAPSULE id=a.b_v1 version=1.0.0 domain=a", got)

	empty := ExpandHeader("{id}", View{})
	assert.Equal(t, "?", empty)
}
