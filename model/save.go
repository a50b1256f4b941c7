package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/syssam/memor"
	"github.com/syssam/memor/dialect/sql"
	"github.com/syssam/memor/schema"
)

type saveOptions struct {
	updateSensitive map[string]struct{}
}

// SaveOption configures one Save call.
type SaveOption func(*saveOptions)

// UpdateSensitive allow-lists sensitive logical fields for this UPDATE.
// Sensitive columns are otherwise excluded from the write set.
func UpdateSensitive(fields ...string) SaveOption {
	return func(o *saveOptions) {
		if o.updateSensitive == nil {
			o.updateSensitive = make(map[string]struct{}, len(fields))
		}
		for _, f := range fields {
			o.updateSensitive[f] = struct{}{}
		}
	}
}

// Save persists the record: in-place changes are detected, every field is
// validated, then the record is inserted or updated depending on whether it
// was ever persisted. On success the dirty set is cleared, the mutation
// snapshot refreshed and virtual fields regenerated. Storage errors are
// translated before returning.
func (r *Record) Save(ctx context.Context, opts ...SaveOption) error {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !r.isNew {
		if err := r.detectInPlaceChanges(); err != nil {
			return err
		}
	}
	if err := r.validate(); err != nil {
		return err
	}
	if r.isNew {
		if err := r.insert(ctx); err != nil {
			return err
		}
	} else if err := r.update(ctx, o); err != nil {
		return err
	}
	r.changed = make(map[string]struct{})
	if err := r.takeSnapshot(); err != nil {
		return err
	}
	r.applyVirtualDefaults()
	return nil
}

// validate runs every declared non-virtual field's validator against its
// current value. Normalized values are written back through the setter so
// the normalization is persisted, not discarded.
func (r *Record) validate() error {
	m := r.set.manifest
	for _, name := range fieldNames(m) {
		spec := m.Fields[name]
		if spec.Virtual || spec.Validate == nil {
			continue
		}
		col, _ := m.StorageColumn(name)
		v := r.data[col]
		nv, err := spec.Validate(v)
		if err != nil {
			return memor.NewValidationError(name, err)
		}
		before, err := canonical(v)
		if err != nil {
			return err
		}
		after, err := canonical(nv)
		if err != nil {
			return err
		}
		if !bytes.Equal(before, after) {
			if err := r.Set(name, nv); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeSet collects the columns about to be written and checks each one
// against the manifest's allow-list. Column identifiers are embedded in the
// statement text, so this check is the injection defense for field names
// and runs before any SQL is issued.
func (r *Record) writeSet(cols []string) error {
	for _, col := range cols {
		if !r.set.manifest.Allowed(col) {
			return memor.NewValidationError(col, errors.New("not a declared storage column"))
		}
	}
	return nil
}

func (r *Record) insert(ctx context.Context) error {
	m := r.set.manifest
	cols := make([]string, 0, len(r.data))
	for col := range r.data {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	if err := r.writeSet(cols); err != nil {
		return err
	}
	values := make([]any, 0, len(cols))
	for _, col := range cols {
		logical, _ := m.LogicalName(col)
		spec := m.Fields[logical]
		if spec == nil {
			values = append(values, r.data[col])
			continue
		}
		v, err := encodeValue(spec, r.data[col])
		if err != nil {
			return memor.NewValidationError(logical, err)
		}
		values = append(values, v)
	}
	query, args, err := sql.Insert(m.Table).
		Columns(cols...).
		Values(values...).
		Returning(m.Columns()...).
		Query()
	if err != nil {
		return err
	}
	rows, err := r.set.queryRows(ctx, "insert", query, args)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		// Merge the returned row so storage-side defaults land in the record.
		for col, raw := range rows[0] {
			logical, ok := m.LogicalName(col)
			if !ok {
				continue
			}
			v, err := decodeValue(m.Fields[logical], raw)
			if err != nil {
				return err
			}
			r.data[col] = v
		}
	}
	r.isNew = false
	return nil
}

func (r *Record) update(ctx context.Context, o saveOptions) error {
	m := r.set.manifest
	if len(r.changed) == 0 {
		return nil
	}
	sensitiveAllowed := make(map[string]struct{}, len(o.updateSensitive))
	for name := range o.updateSensitive {
		if col, ok := m.SensitiveColumn(name); ok {
			sensitiveAllowed[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(r.changed))
	for col := range r.changed {
		if col == "id" {
			continue
		}
		logical, ok := m.LogicalName(col)
		if ok && m.Fields[logical].Sensitive {
			if _, allowed := sensitiveAllowed[col]; !allowed {
				continue
			}
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	if len(cols) == 0 {
		return nil
	}
	if err := r.writeSet(cols); err != nil {
		return err
	}
	u := sql.Update(m.Table)
	for _, col := range cols {
		logical, _ := m.LogicalName(col)
		spec := m.Fields[logical]
		v := r.data[col]
		if spec != nil {
			ev, err := encodeValue(spec, v)
			if err != nil {
				return memor.NewValidationError(logical, err)
			}
			v = ev
		}
		u.Set(col, v)
	}
	id := r.ID()
	if id == "" {
		return fmt.Errorf("model: update %s without id", m.Table)
	}
	query, args, err := u.Where(sql.EQ("id", id)).Query()
	if err != nil {
		return err
	}
	return r.set.exec(ctx, "update", query, args, nil)
}

// SaveAll saves the record, then reconciles every through-junction relation
// whose relation slot holds a desired id set: existing junction rows are
// diffed and only the necessary inserts and deletes are issued. Junction
// tables carrying business columns beyond the two foreign keys are outside
// this mechanism and must be maintained by hand.
func (r *Record) SaveAll(ctx context.Context, opts ...SaveOption) error {
	if err := r.Save(ctx, opts...); err != nil {
		return err
	}
	m := r.set.manifest
	for _, name := range m.RelationNames() {
		rel := m.Relations[name]
		if rel.Through == nil {
			continue
		}
		v, ok := r.relations[name]
		if !ok || v == nil {
			continue
		}
		desired, err := toStringSlice(v)
		if err != nil {
			return fmt.Errorf("model: relation %q: %w", name, err)
		}
		if err := r.reconcileJunction(ctx, rel, desired); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) reconcileJunction(ctx context.Context, rel *schema.Relation, desired []string) error {
	seen := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("model: relation %q: duplicate id %q in desired set", rel.Name, id)
		}
		seen[id] = struct{}{}
	}
	j := rel.Through
	sourceID := r.Get(r.sourceFieldOf(rel))
	query, args, err := sql.Select(j.TargetColumn).
		From(j.Table).
		Where(sql.EQ(j.SourceColumn, sourceID)).
		Query()
	if err != nil {
		return err
	}
	rows, err := r.set.queryRows(ctx, "select", query, args)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		existing[stringify(row[j.TargetColumn])] = struct{}{}
	}
	var inserts []string
	for _, id := range desired {
		if _, ok := existing[id]; !ok {
			inserts = append(inserts, id)
		}
	}
	var deletes []string
	for id := range existing {
		if _, ok := seen[id]; !ok {
			deletes = append(deletes, id)
		}
	}
	sort.Strings(inserts)
	sort.Strings(deletes)
	if len(inserts) > 0 {
		ib := sql.Insert(j.Table).
			Columns(j.SourceColumn, j.TargetColumn).
			OnConflictDoNothing()
		for _, id := range inserts {
			ib.Values(sourceID, id)
		}
		query, args, err := ib.Query()
		if err != nil {
			return err
		}
		if err := r.set.exec(ctx, "insert", query, args, nil); err != nil {
			return err
		}
	}
	if len(deletes) > 0 {
		query, args, err := sql.Delete(j.Table).
			Where(sql.And(
				sql.EQ(j.SourceColumn, sourceID),
				sql.EQAny(j.TargetColumn, pq.Array(deletes), ""),
			)).
			Query()
		if err != nil {
			return err
		}
		if err := r.set.exec(ctx, "delete", query, args, nil); err != nil {
			return err
		}
	}
	return nil
}

// sourceFieldOf returns the logical name of the relation's source column.
func (r *Record) sourceFieldOf(rel *schema.Relation) string {
	if logical, ok := r.set.manifest.LogicalName(rel.SourceColumn); ok {
		return logical
	}
	return rel.SourceColumn
}

// Delete removes the record's row. A record that was never persisted has
// nothing to delete and is rejected.
func (r *Record) Delete(ctx context.Context) error {
	if r.isNew {
		return fmt.Errorf("model: delete unsaved %s record", r.set.manifest.Table)
	}
	return newQuery(r.set).DeleteByID(ctx, r.ID())
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}
