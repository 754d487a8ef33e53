package compose

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// CompositionError reasons.
const (
	ReasonNoCapsules   = "no_capsules"
	ReasonIncompatible = "incompatible_capsules"
)

// maxSuggestions caps the fuzzy-match list attached to a ResolutionError.
const maxSuggestions = 3

// ResolutionError reports an unknown profile, bundle, or capsule reference,
// with the closest-matching known names attached.
type ResolutionError struct {
	Kind        string // "profile", "bundle", or "capsule"
	Name        string
	Suggestions []string
}

func (e *ResolutionError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
	}
	return fmt.Sprintf("%s not found: %s (did you mean %s?)",
		e.Kind, e.Name, strings.Join(e.Suggestions, ", "))
}

// CompositionError reports a composition that cannot produce output.
type CompositionError struct {
	Reason string
	Detail string
}

func (e *CompositionError) Error() string {
	if e.Detail == "" {
		return "composition error: " + e.Reason
	}
	return fmt.Sprintf("composition error: %s (%s)", e.Reason, e.Detail)
}

// suggest returns up to maxSuggestions candidates ranked by fuzzy match
// against name.
func suggest(name string, candidates []string) []string {
	matches := fuzzy.Find(name, candidates)
	var out []string
	for _, m := range matches {
		out = append(out, m.Str)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
