package schema

import "fmt"

// Cardinality says whether a relation yields at most one or potentially
// many related rows per source row.
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// Junction is the through-table spec of a many-to-many relation: the
// junction table plus its two foreign-key columns. Junction tables with
// additional business columns are outside this mechanism's management.
type Junction struct {
	Table        string
	SourceColumn string
	TargetColumn string
}

// Relation declares one relation of an entity. Historical declarations
// name the join columns inconsistently, so SourceColumn falls back through
// SourceKey and SourceField (and likewise for the target side) before
// defaulting to "id". Normalization happens once at registration.
type Relation struct {
	// Name is the relation name; set from the manifest key at registration.
	Name string
	// Target is the target entity's table name.
	Target string
	// RegistryKey optionally names the registry entry used to hydrate
	// target rows. Resolution order: RegistryKey, Target, Name.
	RegistryKey string

	SourceColumn string
	SourceKey    string // legacy alias for SourceColumn
	SourceField  string // legacy alias for SourceColumn
	TargetColumn string
	TargetKey    string // legacy alias for TargetColumn
	TargetField  string // legacy alias for TargetColumn

	// Cardinality defaults to One; a Through spec forces Many.
	Cardinality Cardinality
	// Through makes this a many-to-many relation via a junction table.
	Through *Junction
	// TargetRevisions marks the target entity as revision-enabled so joins
	// automatically apply the current-revision guards.
	TargetRevisions bool
	// Condition is a free-form extra join condition override.
	Condition string
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return "id"
}

// normalize collapses the column aliases, applies defaults and checks the
// through/cardinality invariant.
func (r *Relation) normalize(name string) error {
	if r == nil {
		return fmt.Errorf("relation %q is nil", name)
	}
	r.Name = name
	if r.Target == "" {
		return fmt.Errorf("relation %q has no target table", name)
	}
	r.SourceColumn = firstNonEmpty(r.SourceColumn, r.SourceKey, r.SourceField)
	r.TargetColumn = firstNonEmpty(r.TargetColumn, r.TargetKey, r.TargetField)
	r.SourceKey, r.SourceField, r.TargetKey, r.TargetField = "", "", "", ""
	if r.Through != nil {
		if r.Through.Table == "" || r.Through.SourceColumn == "" || r.Through.TargetColumn == "" {
			return fmt.Errorf("relation %q has an incomplete through spec", name)
		}
		// A junction always fans out.
		if r.Cardinality == One {
			return fmt.Errorf("relation %q declares through with cardinality one", name)
		}
		r.Cardinality = Many
	}
	if r.Cardinality == "" {
		r.Cardinality = One
	}
	if r.Cardinality != One && r.Cardinality != Many {
		return fmt.Errorf("relation %q has invalid cardinality %q", name, r.Cardinality)
	}
	return nil
}

// ResolutionKeys returns the registry lookup keys for the target entity,
// in priority order.
func (r *Relation) ResolutionKeys() []string {
	keys := make([]string, 0, 3)
	if r.RegistryKey != "" {
		keys = append(keys, r.RegistryKey)
	}
	keys = append(keys, r.Target, r.Name)
	return keys
}
