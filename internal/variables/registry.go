package variables

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry maps unit class codes to their variable definitions.
// Built once at configuration-load time; read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	byClass map[string][]Definition
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byClass: make(map[string][]Definition)}
}

// Register adds the definitions of one unit class. Definitions are
// kept sorted by descending significance, name as tie-break.
func (r *Registry) Register(classCode string, defs []Definition) error {
	if classCode == "" {
		return errors.New("variables: empty class code")
	}
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("variables: class %s: %w", classCode, err)
		}
		if seen[def.Name] {
			return fmt.Errorf("variables: class %s: duplicate variable %s", classCode, def.Name)
		}
		seen[def.Name] = true
	}
	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Significance != sorted[j].Significance {
			return sorted[i].Significance > sorted[j].Significance
		}
		return sorted[i].Name < sorted[j].Name
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClass[classCode] = sorted
	return nil
}

// ForClass returns the definitions of a class, most significant first.
func (r *Registry) ForClass(classCode string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := r.byClass[classCode]
	result := make([]Definition, len(defs))
	copy(result, defs)
	return result
}

// Lookup finds one definition by class and variable name.
func (r *Registry) Lookup(classCode, name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.byClass[classCode] {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Classes returns the registered class codes in order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]string, 0, len(r.byClass))
	for code := range r.byClass {
		result = append(result, code)
	}
	sort.Strings(result)
	return result
}
