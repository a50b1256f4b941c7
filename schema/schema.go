// Package schema holds the declarative side of memor: entity manifests,
// field specifications, relation descriptors and the per-client registry.
// A manifest is built once at model-definition time, validated and frozen
// at registration, and read-only afterwards.
package schema

import (
	"fmt"
	"sort"

	"github.com/go-openapi/inflect"
)

// Kind is the storage type of a field. It drives value decoding at
// hydration time and the orderable/numeric checks of the operator layer.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindUUID
	KindJSON
	KindStringArray
	KindIntArray
)

var kindNames = [...]string{
	KindInvalid:     "invalid",
	KindString:      "string",
	KindInt:         "int",
	KindFloat:       "float",
	KindBool:        "bool",
	KindTime:        "time",
	KindUUID:        "uuid",
	KindJSON:        "json",
	KindStringArray: "string_array",
	KindIntArray:    "int_array",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Numeric reports whether the kind supports atomic increments.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// Orderable reports whether values of the kind have a total order usable
// by range comparisons (numeric, temporal, string).
func (k Kind) Orderable() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindTime, KindUUID:
		return true
	}
	return false
}

// Instance is the view of a record a default factory receives: enough to
// derive one field's default from another already-applied field.
type Instance interface {
	Get(name string) any
}

// FieldSpec is the validation contract of one declared field.
type FieldSpec struct {
	// Kind is the field's storage type.
	Kind Kind
	// Validate normalizes the value or rejects it. The normalized value is
	// written back into the record, not discarded. Nil means any value.
	Validate func(v any) (any, error)
	// Virtual fields are computed only and never persisted.
	Virtual bool
	// Sensitive fields are excluded from default result sets and writes;
	// callers opt in explicitly per query or per save.
	Sensitive bool
	// Default is the literal default applied at construction when the
	// caller supplied no value.
	Default any
	// DefaultFunc is a factory default evaluated against the owning
	// instance. It takes precedence over Default when both are set.
	DefaultFunc func(Instance) any
}

// HasDefault reports whether the spec declares any default.
func (f *FieldSpec) HasDefault() bool {
	return f != nil && (f.Default != nil || f.DefaultFunc != nil)
}

// Manifest is the immutable declaration of one entity: storage table,
// field schema, optional column overrides, relations and named views.
// Mutating a manifest after registration is a bug; Registry.Register
// normalizes and freezes it.
type Manifest struct {
	// Table is the storage table name.
	Table string
	// Alias is an optional extra registry key.
	Alias string
	// Fields maps logical (camelCase) field names to their specs.
	Fields map[string]*FieldSpec
	// Mapping overrides logical-to-storage column names. Fields absent
	// here derive their column by snake_casing the logical name.
	Mapping map[string]string
	// Relations declares the entity's relations, keyed by relation name.
	Relations map[string]*Relation
	// Views are named column projections.
	Views map[string][]string
	// Revisions enables multi-revision tracking for this entity.
	Revisions bool

	columns   map[string]string // logical -> storage, resolved
	logical   map[string]string // storage -> logical, resolved
	selectSet []string          // non-virtual, non-sensitive storage columns, sorted
	allowSet  map[string]struct{}
	frozen    bool
}

// normalize resolves column mappings, relation aliases and, for
// revision-enabled entities, merges the revision metadata fields.
func (m *Manifest) normalize(includeSummary bool) error {
	if m.Table == "" {
		return fmt.Errorf("schema: manifest without a table name")
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("schema: manifest %q without fields", m.Table)
	}
	if m.Revisions {
		for name, spec := range RevisionFields(includeSummary) {
			if _, ok := m.Fields[name]; ok {
				return fmt.Errorf("schema: manifest %q redeclares revision field %q", m.Table, name)
			}
			m.Fields[name] = spec
		}
	}
	m.columns = make(map[string]string, len(m.Fields))
	m.logical = make(map[string]string, len(m.Fields))
	m.allowSet = make(map[string]struct{}, len(m.Fields))
	for name, spec := range m.Fields {
		if spec == nil {
			return fmt.Errorf("schema: manifest %q: field %q has no spec", m.Table, name)
		}
		col := m.Mapping[name]
		switch {
		case col != "":
		case IsRevisionField(name):
			// Revision columns carry their underscore prefix verbatim;
			// inflect would strip it.
			col = name
		default:
			col = inflect.Underscore(name)
		}
		if spec.Virtual {
			// Virtual fields live in memory only; they still resolve to
			// themselves so accessors can look them up uniformly.
			m.columns[name] = name
			continue
		}
		if prev, ok := m.logical[col]; ok {
			return fmt.Errorf("schema: manifest %q: fields %q and %q share column %q", m.Table, prev, name, col)
		}
		m.columns[name] = col
		m.logical[col] = name
		m.allowSet[col] = struct{}{}
	}
	// Mapping values are allow-listed even for undeclared auxiliary
	// columns so a mapped write target never trips the injection guard.
	for _, col := range m.Mapping {
		m.allowSet[col] = struct{}{}
	}
	m.selectSet = m.selectSet[:0]
	for name, spec := range m.Fields {
		if spec.Virtual || spec.Sensitive {
			continue
		}
		m.selectSet = append(m.selectSet, m.columns[name])
	}
	sort.Strings(m.selectSet)
	for name, rel := range m.Relations {
		if err := rel.normalize(name); err != nil {
			return fmt.Errorf("schema: manifest %q: %w", m.Table, err)
		}
	}
	m.frozen = true
	return nil
}

// Frozen reports whether the manifest has been registered.
func (m *Manifest) Frozen() bool { return m.frozen }

// Field returns the spec of the given logical field, or nil.
func (m *Manifest) Field(name string) *FieldSpec { return m.Fields[name] }

// StorageColumn resolves a logical field name to its storage column.
// The second return is false for undeclared names.
func (m *Manifest) StorageColumn(name string) (string, bool) {
	col, ok := m.columns[name]
	return col, ok
}

// LogicalName resolves a storage column back to its logical field name.
func (m *Manifest) LogicalName(column string) (string, bool) {
	name, ok := m.logical[column]
	return name, ok
}

// Columns returns the default selectable storage columns: every
// non-virtual, non-sensitive column in deterministic order.
func (m *Manifest) Columns() []string {
	out := make([]string, len(m.selectSet))
	copy(out, m.selectSet)
	return out
}

// SensitiveColumn resolves a logical sensitive field to its storage column.
func (m *Manifest) SensitiveColumn(name string) (string, bool) {
	spec := m.Fields[name]
	if spec == nil || !spec.Sensitive || spec.Virtual {
		return "", false
	}
	return m.columns[name], true
}

// Allowed reports whether the given storage column may appear in generated
// INSERT/UPDATE statements. Column identifiers are embedded directly (not
// bound), so this allow-list is the injection defense for field names.
func (m *Manifest) Allowed(column string) bool {
	if _, ok := m.allowSet[column]; ok {
		return true
	}
	if m.Revisions {
		for _, c := range RevisionColumns(true) {
			if c == column {
				return true
			}
		}
	}
	return false
}

// View returns the storage columns of a named projection.
func (m *Manifest) View(name string) ([]string, error) {
	logical, ok := m.Views[name]
	if !ok {
		return nil, fmt.Errorf("schema: manifest %q has no view %q", m.Table, name)
	}
	out := make([]string, 0, len(logical))
	for _, f := range logical {
		col, ok := m.columns[f]
		if !ok {
			return nil, fmt.Errorf("schema: view %q references unknown field %q", name, f)
		}
		out = append(out, col)
	}
	return out, nil
}

// RelationNames returns the declared relation names, sorted.
func (m *Manifest) RelationNames() []string {
	names := make([]string, 0, len(m.Relations))
	for name := range m.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
