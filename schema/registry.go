package schema

import (
	"fmt"
	"sync"
)

// RegistryOptions configures a registry at construction time.
type RegistryOptions struct {
	// RevisionSummary merges the optional summary field into every
	// revision-enabled manifest registered here.
	RevisionSummary bool
}

// Registry owns the manifests of one client, keyed by table name and by
// optional alias. It is written at bootstrap and read thereafter; duplicate
// registration of a key is rejected to catch duplicate-bootstrap bugs
// instead of silently overwriting.
type Registry struct {
	mu         sync.RWMutex
	byTable    map[string]*Manifest
	byAlias    map[string]*Manifest
	revSummary bool
}

// NewRegistry returns an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		byTable:    make(map[string]*Manifest),
		byAlias:    make(map[string]*Manifest),
		revSummary: opts.RevisionSummary,
	}
}

// RevisionSummary reports whether registered revision manifests carry the
// summary field.
func (r *Registry) RevisionSummary() bool { return r.revSummary }

// Register normalizes, freezes and stores the manifest. Both the table
// name and the alias (when set) become lookup keys.
func (r *Registry) Register(m *Manifest) error {
	if m == nil {
		return fmt.Errorf("schema: register nil manifest")
	}
	if err := m.normalize(r.revSummary); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTable[m.Table]; ok {
		return fmt.Errorf("schema: table %q already registered", m.Table)
	}
	if m.Alias != "" {
		if _, ok := r.byAlias[m.Alias]; ok {
			return fmt.Errorf("schema: alias %q already registered", m.Alias)
		}
		if _, ok := r.byTable[m.Alias]; ok {
			return fmt.Errorf("schema: alias %q collides with a registered table", m.Alias)
		}
	}
	r.byTable[m.Table] = m
	if m.Alias != "" {
		r.byAlias[m.Alias] = m
	}
	return nil
}

// Lookup resolves a registry key: alias first, then table name.
func (r *Registry) Lookup(key string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.byAlias[key]; ok {
		return m, true
	}
	m, ok := r.byTable[key]
	return m, ok
}

// ResolveRelation resolves a relation's target manifest by its resolution
// keys (explicit registry key, target table, relation name, in that order).
func (r *Registry) ResolveRelation(rel *Relation) (*Manifest, bool) {
	for _, key := range rel.ResolutionKeys() {
		if m, ok := r.Lookup(key); ok {
			return m, true
		}
	}
	return nil, false
}

// Tables returns the registered table names.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTable))
	for t := range r.byTable {
		out = append(out, t)
	}
	return out
}

// Clear removes every registered manifest. Used at client teardown and for
// test isolation.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTable = make(map[string]*Manifest)
	r.byAlias = make(map[string]*Manifest)
}
