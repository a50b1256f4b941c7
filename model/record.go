package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/syssam/memor/schema"
)

// Record is one entity row's mutable state: a storage-keyed value map, a
// virtual-field side map, a dirty set of changed storage columns and the
// snapshot used to detect in-place mutation of nested values. Every read
// and write of a declared field funnels through Get/Set, which resolve the
// logical name to its storage column; virtual fields bypass persistence
// entirely.
type Record struct {
	set       *Set
	data      map[string]any
	virtual   map[string]any
	relations map[string]any
	changed   map[string]struct{}
	isNew     bool
	original  map[string][]byte // canonical snapshot per storage column
}

// New constructs a not-yet-persisted record. Values may be keyed by logical
// or storage name; defaults are applied for any field the caller did not
// supply under either.
func (s *Set) New(values map[string]any) (*Record, error) {
	r := &Record{
		set:       s,
		data:      make(map[string]any),
		virtual:   make(map[string]any),
		relations: make(map[string]any),
		changed:   make(map[string]struct{}),
		isNew:     true,
		original:  make(map[string][]byte),
	}
	for key, v := range values {
		if err := r.Set(key, v); err != nil {
			return nil, err
		}
	}
	r.applyDefaults(values)
	return r, nil
}

// applyDefaults fills absent fields: literal defaults first, then factory
// defaults, so a factory may derive its value from an already-applied field.
func (r *Record) applyDefaults(supplied map[string]any) {
	m := r.set.manifest
	names := fieldNames(m)
	for _, name := range names {
		spec := m.Fields[name]
		if !spec.HasDefault() || spec.DefaultFunc != nil || r.hasValue(name, supplied) {
			continue
		}
		r.put(name, spec, spec.Default)
	}
	for _, name := range names {
		spec := m.Fields[name]
		if spec.DefaultFunc == nil || r.hasValue(name, supplied) {
			continue
		}
		r.put(name, spec, spec.DefaultFunc(r))
	}
}

// hasValue reports whether the caller supplied the field, checked under
// both the logical and the storage name.
func (r *Record) hasValue(name string, supplied map[string]any) bool {
	if _, ok := supplied[name]; ok {
		return true
	}
	if col, ok := r.set.manifest.StorageColumn(name); ok {
		if _, ok := supplied[col]; ok {
			return true
		}
	}
	return false
}

func (r *Record) put(name string, spec *schema.FieldSpec, v any) {
	if spec.Virtual {
		r.virtual[name] = v
		return
	}
	col, _ := r.set.manifest.StorageColumn(name)
	r.data[col] = v
	r.changed[col] = struct{}{}
}

// resolveField resolves a logical name to its storage column and spec.
// Passing an already-storage-shaped name where a logical name is expected
// is rejected: it catches accidental double resolution early instead of
// silently producing wrong SQL.
func (r *Record) resolveField(name string) (string, *schema.FieldSpec, error) {
	return resolveField(r.set.manifest, name)
}

func resolveField(m *schema.Manifest, name string) (string, *schema.FieldSpec, error) {
	if spec, ok := m.Fields[name]; ok {
		col, _ := m.StorageColumn(name)
		return col, spec, nil
	}
	if logical, ok := m.LogicalName(name); ok {
		return "", nil, fmt.Errorf("model: %q is a storage column, not a field name; use %q", name, logical)
	}
	return "", nil, fmt.Errorf("model: %q has no field %q", m.Table, name)
}

// Get returns the field's current value. Virtual fields read the in-memory
// side map; relation names read the relation slot. Unknown names return nil.
func (r *Record) Get(name string) any {
	m := r.set.manifest
	if spec, ok := m.Fields[name]; ok {
		if spec.Virtual {
			return r.virtual[name]
		}
		col, _ := m.StorageColumn(name)
		return r.data[col]
	}
	if _, ok := m.Relations[name]; ok {
		return r.relations[name]
	}
	return nil
}

// Set writes the field's value. Persisted fields mark their storage column
// dirty; virtual fields update the side map only; relation names stash the
// value for SaveAll's junction reconciliation.
func (r *Record) Set(name string, v any) error {
	m := r.set.manifest
	if _, ok := m.Fields[name]; ok {
		col, spec, err := r.resolveField(name)
		if err != nil {
			return err
		}
		if spec.Virtual {
			r.virtual[name] = v
			return nil
		}
		r.data[col] = v
		r.changed[col] = struct{}{}
		return nil
	}
	if _, ok := m.Relations[name]; ok {
		r.relations[name] = v
		return nil
	}
	if logical, ok := m.LogicalName(name); ok && logical != name {
		// Storage names are accepted on write for construction parity.
		r.data[name] = v
		r.changed[name] = struct{}{}
		return nil
	}
	return fmt.Errorf("model: %q has no field %q", m.Table, name)
}

// ID returns the record's id column value as a string, or "".
func (r *Record) ID() string {
	if v, ok := r.data["id"].(string); ok {
		return v
	}
	return ""
}

// IsNew reports whether the record was never persisted.
func (r *Record) IsNew() bool { return r.isNew }

// Changed returns the dirty storage columns, sorted.
func (r *Record) Changed() []string {
	out := make([]string, 0, len(r.changed))
	for c := range r.changed {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Related returns the loaded relation slot for the given relation name:
// a []*Record for many-relations, a *Record or nil for one-relations.
func (r *Record) Related(name string) any { return r.relations[name] }

// hydrate turns a result row into a record: dirty set cleared, isNew false,
// snapshot taken, virtual defaults regenerated. Rows returned by reads are
// never left in "new" state.
func (s *Set) hydrate(row map[string]any) (*Record, error) {
	r := &Record{
		set:       s,
		data:      make(map[string]any, len(row)),
		virtual:   make(map[string]any),
		relations: make(map[string]any),
		changed:   make(map[string]struct{}),
		original:  make(map[string][]byte),
	}
	for col, raw := range row {
		logical, ok := s.manifest.LogicalName(col)
		if !ok {
			// Columns outside the schema (aggregates, join keys) are the
			// caller's to strip before hydration.
			r.data[col] = raw
			continue
		}
		spec := s.manifest.Fields[logical]
		v, err := decodeValue(spec, raw)
		if err != nil {
			return nil, fmt.Errorf("model: %s.%s: %w", s.manifest.Table, col, err)
		}
		r.data[col] = v
	}
	if err := r.takeSnapshot(); err != nil {
		return nil, err
	}
	r.applyVirtualDefaults()
	return r, nil
}

// applyVirtualDefaults regenerates virtual fields from their factories;
// they may depend on just-persisted values.
func (r *Record) applyVirtualDefaults() {
	m := r.set.manifest
	for _, name := range fieldNames(m) {
		spec := m.Fields[name]
		if !spec.Virtual || spec.DefaultFunc == nil {
			continue
		}
		r.virtual[name] = spec.DefaultFunc(r)
	}
}

func fieldNames(m *schema.Manifest) []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeValue converts a raw driver value into the field's runtime shape,
// driven by the schema kind.
func decodeValue(spec *schema.FieldSpec, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch spec.Kind {
	case schema.KindString, schema.KindUUID:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case schema.KindInt:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case []byte:
			return strconv.ParseInt(string(v), 10, 64)
		}
	case schema.KindFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		}
	case schema.KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case []byte:
			return strconv.ParseBool(string(v))
		}
	case schema.KindTime:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case []byte:
			return time.Parse(time.RFC3339Nano, string(v))
		case string:
			return time.Parse(time.RFC3339Nano, v)
		}
	case schema.KindJSON:
		var data []byte
		switch v := raw.(type) {
		case []byte:
			data = v
		case string:
			data = []byte(v)
		default:
			return raw, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	case schema.KindStringArray:
		switch v := raw.(type) {
		case []string:
			return v, nil
		default:
			var arr pq.StringArray
			if err := arr.Scan(raw); err != nil {
				return nil, err
			}
			return []string(arr), nil
		}
	case schema.KindIntArray:
		switch v := raw.(type) {
		case []int64:
			return v, nil
		default:
			var arr pq.Int64Array
			if err := arr.Scan(raw); err != nil {
				return nil, err
			}
			return []int64(arr), nil
		}
	}
	return raw, nil
}

// encodeValue converts a runtime value into its bound parameter shape,
// driven by the schema kind.
func encodeValue(spec *schema.FieldSpec, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch spec.Kind {
	case schema.KindStringArray:
		ss, err := toStringSlice(v)
		if err != nil {
			return nil, err
		}
		return pq.Array(ss), nil
	case schema.KindIntArray:
		switch vs := v.(type) {
		case []int64:
			return pq.Array(vs), nil
		case []int:
			out := make([]int64, len(vs))
			for i, n := range vs {
				out[i] = int64(n)
			}
			return pq.Array(out), nil
		}
		return nil, fmt.Errorf("expected int slice, got %T", v)
	case schema.KindJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return v, nil
}

func toStringSlice(v any) ([]string, error) {
	switch vs := v.(type) {
	case []string:
		return vs, nil
	case []any:
		out := make([]string, len(vs))
		for i, e := range vs {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", e)
			}
			out[i] = s
		}
		return out, nil
	case string:
		return []string{vs}, nil
	}
	return nil, fmt.Errorf("expected string slice, got %T", v)
}
