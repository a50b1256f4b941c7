// Package model is the runtime of memor: per-row records with schema-aware
// accessors and dirty tracking, the fluent query facade with default
// revision guards, relation loading and the revision lifecycle.
package model

import (
	"context"
	"fmt"

	"github.com/syssam/memor"
	"github.com/syssam/memor/dialect"
	"github.com/syssam/memor/dialect/sql"
	"github.com/syssam/memor/schema"
)

// Client is the slice of memor.Client the model runtime consumes.
type Client interface {
	Driver() dialect.Driver
	Registry() *schema.Registry
}

// Literal is the typed predicate literal of the filter facade: plain values
// become equality predicates, *Op values delegate to their operator.
type Literal map[string]any

// Set is the per-entity handle: the entry point for constructing records,
// filtering, relation loading and guarded revision reads.
type Set struct {
	client   Client
	manifest *schema.Manifest
}

// NewSet resolves the registry key (alias first, then table name) and
// returns the entity handle.
func NewSet(client Client, key string) (*Set, error) {
	m, ok := client.Registry().Lookup(key)
	if !ok {
		return nil, fmt.Errorf("model: no manifest registered for %q", key)
	}
	return &Set{client: client, manifest: m}, nil
}

// Manifest returns the entity's manifest.
func (s *Set) Manifest() *schema.Manifest { return s.manifest }

// Table returns the entity's storage table.
func (s *Set) Table() string { return s.manifest.Table }

// FilterWhere returns a query with the given literal applied. Default
// revision guards are injected lazily on first execution, so IncludeDeleted
// and IncludeStale take effect regardless of chain order.
func (s *Set) FilterWhere(lit Literal) *Query {
	q := newQuery(s)
	return q.Where(lit)
}

// GetByID fetches the row with the given id, with default revision guards
// applied for revision-enabled entities.
func (s *Set) GetByID(ctx context.Context, id string) (*Record, error) {
	return s.FilterWhere(Literal{"id": id}).First(ctx)
}

// queryRows executes a row-returning statement and returns its rows as
// column-keyed maps. Storage errors are translated before returning.
func (s *Set) queryRows(ctx context.Context, op, query string, args []any) ([]map[string]any, error) {
	rows := &sql.Rows{}
	if err := s.client.Driver().Query(ctx, query, args, rows); err != nil {
		return nil, memor.TranslateOp(s.manifest.Table, op, err)
	}
	defer rows.Close()
	out, err := sql.ScanMaps(rows)
	if err != nil {
		return nil, memor.TranslateOp(s.manifest.Table, op, err)
	}
	return out, nil
}

// exec executes a statement that returns no rows.
func (s *Set) exec(ctx context.Context, op, query string, args []any, v any) error {
	if err := s.client.Driver().Exec(ctx, query, args, v); err != nil {
		return memor.TranslateOp(s.manifest.Table, op, err)
	}
	return nil
}
