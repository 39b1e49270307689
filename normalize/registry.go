package normalize

import (
	"fmt"
	"sync"

	"github.com/CERT-Polska/n6-sub011/errors"
)

// Registry holds the schema versions bound to each logical source.
// Multiple format versions coexist so historical raw data already on the
// bus stays parseable after a source's format changes.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]map[string]*Schema // source -> format version -> schema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]map[string]*Schema)}
}

// Register adds a schema version. Re-registering the same binding key is
// an error; schemas are immutable once bound.
func (r *Registry) Register(s *Schema) error {
	if err := s.Validate(); err != nil {
		return errors.WrapInvalid(err, "Registry", "Register", "validate schema")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.schemas[s.Source]
	if !ok {
		versions = make(map[string]*Schema)
		r.schemas[s.Source] = versions
	}
	if _, exists := versions[s.FormatVersion]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("schema %s already registered", s.BindingKey()),
			"Registry", "Register", "duplicate binding key")
	}
	versions[s.FormatVersion] = s
	return nil
}

// Lookup resolves the schema for a (source, format-version) binding.
// A unit tagged with an unknown version, or from a source with no schema
// at all, yields ErrNoSchema. A source with exactly one registered version
// accepts an untagged unit.
func (r *Registry) Lookup(source, formatVersion string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.schemas[source]
	if !ok {
		return nil, errors.WrapFatal(errors.ErrNoSchema, "Registry", "Lookup",
			"no schema for source "+source)
	}

	if s, ok := versions[formatVersion]; ok {
		return s, nil
	}
	if formatVersion == "" && len(versions) == 1 {
		for _, s := range versions {
			return s, nil
		}
	}

	return nil, errors.WrapFatal(errors.ErrNoSchema, "Registry", "Lookup",
		fmt.Sprintf("no schema for %s:%s", source, formatVersion))
}

// Sources lists the sources with at least one registered schema.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.schemas))
	for source := range r.schemas {
		out = append(out, source)
	}
	return out
}
