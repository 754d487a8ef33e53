// Package witness executes the check programs declared inside capsules and
// aggregates their verdicts into receipts. Every witness speaks one
// contract: exactly one JSON object on stdout with a status of PASS, FAIL,
// or SKIP, exit code 0 for PASS/SKIP and 1 for FAIL. Anything else,
// including a timeout, is an infrastructure error, kept distinct from a
// logical FAIL so CI can tell "the checked thing is wrong" from "the
// checker is broken".
package witness

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
)

var (
	ErrUnknownLanguage   = errors.New("unknown witness language")
	ErrAdapterRegistered = errors.New("adapter already registered")
)

// Adapter maps one witness language onto an interpreter invocation.
type Adapter struct {
	Language capsule.WitnessLanguage

	// Entrypoint is the default interpreter binary; a witness may
	// override it per declaration.
	Entrypoint string

	// Ext is the script file extension, dot included.
	Ext string
}

// Registry holds the language adapters. One adapter per language tag; all
// adapters conform to the same stdout/exit-code contract.
type Registry struct {
	mu       sync.RWMutex
	adapters map[capsule.WitnessLanguage]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[capsule.WitnessLanguage]Adapter)}
}

// DefaultRegistry returns a registry with the built-in adapters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []Adapter{
		{Language: capsule.LanguagePython, Entrypoint: "python3", Ext: ".py"},
		{Language: capsule.LanguageNode, Entrypoint: "node", Ext: ".js"},
		{Language: capsule.LanguageBash, Entrypoint: "bash", Ext: ".sh"},
		{Language: capsule.LanguageShell, Entrypoint: "sh", Ext: ".sh"},
	} {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Language]; exists {
		return fmt.Errorf("%w: %s", ErrAdapterRegistered, a.Language)
	}
	r.adapters[a.Language] = a
	return nil
}

// Get returns the adapter for a language.
func (r *Registry) Get(language capsule.WitnessLanguage) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[language]
	if !ok {
		return Adapter{}, fmt.Errorf("%w: %s", ErrUnknownLanguage, language)
	}
	return a, nil
}

// Languages returns the registered language tags.
func (r *Registry) Languages() []capsule.WitnessLanguage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]capsule.WitnessLanguage, 0, len(r.adapters))
	for lang := range r.adapters {
		out = append(out, lang)
	}
	return out
}
