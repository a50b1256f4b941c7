package model

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/memor/dialect/sql"
	"github.com/syssam/memor/schema"
)

// groupAlias carries the grouping key of a batched relation query as an
// extra output column, kept out of the hydrated record.
const groupAlias = "_memor_group"

// joinAlias labels an inline-joined target column. The reserved prefix keeps
// the alias disjoint from every base storage column, so a relation named
// after its own source column cannot shadow it in the scanned row.
func joinAlias(rel, col string) string {
	return "_memor_" + rel + "_" + col
}

// JoinConfig forces a relation into batched mode with an optional filter,
// ordering and limit applied to the follow-up query.
type JoinConfig struct {
	Where     Literal
	OrderBy   string
	OrderDesc bool
	Limit     int
}

// JoinSpec maps relation names to either true (default strategy by
// cardinality) or a JoinConfig.
type JoinSpec map[string]any

type joinRequest struct {
	rel    *schema.Relation
	target *schema.Manifest
	cfg    *JoinConfig
	inline bool
}

// GetJoin requests the named relations to be resolved alongside the query.
// A single-row relation with a plain true value joins inline via LEFT JOIN
// with relation-prefixed column aliases; a fanning-out relation, or any
// relation with a JoinConfig, is fetched by a batched follow-up query.
func (q *Query) GetJoin(spec JoinSpec) *Query {
	if q.err != nil {
		return q
	}
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rel, ok := q.set.manifest.Relations[name]
		if !ok {
			return q.fail(fmt.Errorf("model: %s has no relation %q (available: %s)",
				q.set.Table(), name, strings.Join(q.set.manifest.RelationNames(), ", ")))
		}
		var cfg *JoinConfig
		switch v := spec[name].(type) {
		case bool:
			if !v {
				continue
			}
		case JoinConfig:
			cfg = &v
		case *JoinConfig:
			cfg = v
		default:
			return q.fail(fmt.Errorf("model: relation %q: join value must be true or a JoinConfig, got %T", name, spec[name]))
		}
		target, ok := q.set.client.Registry().ResolveRelation(rel)
		if !ok {
			return q.fail(fmt.Errorf("model: relation %q targets unregistered entity %q", name, rel.Target))
		}
		q.joins = append(q.joins, &joinRequest{
			rel:    rel,
			target: target,
			cfg:    cfg,
			inline: rel.Cardinality == schema.One && cfg == nil && rel.Through == nil,
		})
	}
	return q
}

func (q *Query) splitJoins() (inline, batched []*joinRequest) {
	for _, j := range q.joins {
		if j.inline {
			inline = append(inline, j)
		} else {
			batched = append(batched, j)
		}
	}
	return inline, batched
}

func (j *joinRequest) revisionGuarded() bool {
	return j.rel.TargetRevisions || j.target.Revisions
}

// decorate adds the LEFT JOIN clause and the prefix-aliased target columns
// to the main selector. Only the target's non-sensitive columns are
// exposed, so a join never widens the sensitive-field surface.
func (j *joinRequest) decorate(q *Query, sel *sql.Selector) {
	tt := j.target.Table
	on := sql.ColumnsEQ(
		sql.Qualify(q.set.Table(), j.rel.SourceColumn),
		sql.Qualify(tt, j.rel.TargetColumn),
	)
	if j.revisionGuarded() {
		deleted := sql.Qualify(tt, schema.RevDeleted)
		on = sql.And(on,
			sql.IsNull(sql.Qualify(tt, schema.OldRevOf)),
			sql.Or(sql.IsNull(deleted), sql.EQ(deleted, false)),
		)
	}
	if j.rel.Condition != "" {
		on = sql.And(on, sql.ExprP(j.rel.Condition))
	}
	sel.LeftJoin(tt, on)
	for _, col := range j.target.Columns() {
		sel.SelectExpr(sql.As(sql.Qualify(tt, col), joinAlias(j.rel.Name, col)))
	}
}

// splitJoinColumns strips the prefix-aliased relation columns out of a raw
// row and returns them per relation name under their bare storage names.
func splitJoinColumns(row map[string]any, inline []*joinRequest) map[string]map[string]any {
	if len(inline) == 0 {
		return nil
	}
	sub := make(map[string]map[string]any, len(inline))
	for _, j := range inline {
		cols := make(map[string]any)
		for _, col := range j.target.Columns() {
			key := joinAlias(j.rel.Name, col)
			if v, ok := row[key]; ok {
				cols[col] = v
				delete(row, key)
			}
		}
		sub[j.rel.Name] = cols
	}
	return sub
}

// attachInline hydrates an inline-joined sub-row into the record's relation
// slot. A LEFT JOIN with no match produces all-NULL prefixed columns; that
// phantom row maps to a nil slot, never an empty record.
func (j *joinRequest) attachInline(q *Query, r *Record, sub map[string]any) error {
	if r.relations == nil {
		r.relations = make(map[string]any)
	}
	allNull := true
	for _, v := range sub {
		if v != nil {
			allNull = false
			break
		}
	}
	if len(sub) == 0 || allNull {
		r.relations[j.rel.Name] = nil
		return nil
	}
	ts := &Set{client: q.set.client, manifest: j.target}
	rec, err := ts.hydrate(sub)
	if err != nil {
		return err
	}
	r.relations[j.rel.Name] = rec
	return nil
}

// runBatchedJoins fetches every batched relation concurrently and assigns
// the grouped results into the records once all queries finished.
func (q *Query) runBatchedJoins(ctx context.Context, records []*Record, batched []*joinRequest) error {
	results := make([]map[string][]*Record, len(batched))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range batched {
		i, j := i, j
		g.Go(func() error {
			grouped, err := q.fetchBatched(gctx, j, records)
			if err != nil {
				return err
			}
			results[i] = grouped
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, j := range batched {
		for _, r := range records {
			if r.relations == nil {
				r.relations = make(map[string]any)
			}
			key := stringify(r.data[j.rel.SourceColumn])
			rows := results[i][key]
			if j.rel.Cardinality == schema.Many {
				if rows == nil {
					rows = []*Record{}
				}
				r.relations[j.rel.Name] = rows
			} else {
				if len(rows) > 0 {
					r.relations[j.rel.Name] = rows[0]
				} else {
					r.relations[j.rel.Name] = nil
				}
			}
		}
	}
	return nil
}

// fetchBatched runs one follow-up query for a relation and groups the
// hydrated target rows by the source-side key value.
func (q *Query) fetchBatched(ctx context.Context, j *joinRequest, records []*Record) (map[string][]*Record, error) {
	keys := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		v := r.data[j.rel.SourceColumn]
		if v == nil {
			continue
		}
		k := stringify(v)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return map[string][]*Record{}, nil
	}

	tt := j.target.Table
	cols := j.target.Columns()
	qualified := make([]string, len(cols))
	for i, c := range cols {
		qualified[i] = sql.Qualify(tt, c)
	}
	sel := sql.Select(qualified...).From(tt)

	preds := make([]*sql.Predicate, 0, 4)
	if th := j.rel.Through; th != nil {
		sel.Join(th.Table, sql.ColumnsEQ(
			sql.Qualify(th.Table, th.TargetColumn),
			sql.Qualify(tt, j.rel.TargetColumn),
		))
		sel.SelectExpr(sql.As(sql.Qualify(th.Table, th.SourceColumn), groupAlias))
		preds = append(preds, sql.EQAny(sql.Qualify(th.Table, th.SourceColumn), pq.Array(keys), columnCast(q.set.manifest, j.rel.SourceColumn)))
	} else {
		sel.SelectExpr(sql.As(sql.Qualify(tt, j.rel.TargetColumn), groupAlias))
		preds = append(preds, sql.EQAny(sql.Qualify(tt, j.rel.TargetColumn), pq.Array(keys), columnCast(j.target, j.rel.TargetColumn)))
	}
	if j.revisionGuarded() {
		deleted := sql.Qualify(tt, schema.RevDeleted)
		preds = append(preds,
			sql.IsNull(sql.Qualify(tt, schema.OldRevOf)),
			sql.Or(sql.IsNull(deleted), sql.EQ(deleted, false)),
		)
	}
	if j.rel.Condition != "" {
		preds = append(preds, sql.ExprP(j.rel.Condition))
	}
	if j.cfg != nil {
		if len(j.cfg.Where) > 0 {
			tq := &Query{set: &Set{client: q.set.client, manifest: j.target}}
			tq.Where(j.cfg.Where)
			if tq.err != nil {
				return nil, tq.err
			}
			preds = append(preds, tq.preds...)
		}
		if j.cfg.OrderBy != "" {
			col, _, err := resolveField(j.target, j.cfg.OrderBy)
			if err != nil {
				return nil, err
			}
			col = sql.Qualify(tt, col)
			if j.cfg.OrderDesc {
				col = sql.Desc(col)
			}
			sel.OrderBy(col)
		}
		if j.cfg.Limit > 0 {
			sel.Limit(j.cfg.Limit)
		}
	}
	sel.Where(sql.And(preds...))

	query, args, err := sel.Query()
	if err != nil {
		return nil, err
	}
	ts := &Set{client: q.set.client, manifest: j.target}
	rows, err := ts.queryRows(ctx, "select", query, args)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]*Record, len(keys))
	for _, row := range rows {
		key := stringify(row[groupAlias])
		delete(row, groupAlias)
		rec, err := ts.hydrate(row)
		if err != nil {
			return nil, err
		}
		grouped[key] = append(grouped[key], rec)
	}
	return grouped, nil
}

// columnCast picks the array cast for a key column: uuid columns need the
// bound text array cast to ::uuid[] for = ANY comparisons.
func columnCast(m *schema.Manifest, column string) string {
	name, ok := m.LogicalName(column)
	if !ok {
		return ""
	}
	if spec := m.Field(name); spec != nil && spec.Kind == schema.KindUUID {
		return "::uuid[]"
	}
	return ""
}

// LoadManyRelated batch-fetches the targets of a through-junction relation
// for many source ids at once and groups them per source id. Input ids are
// deduplicated; an empty input returns an empty mapping without querying.
func (s *Set) LoadManyRelated(ctx context.Context, name string, sourceIDs []string) (map[string][]*Record, error) {
	rel, target, err := s.junctionRelation(name)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sourceIDs))
	seen := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[string][]*Record{}, nil
	}

	th := rel.Through
	tt := target.Table
	cols := target.Columns()
	qualified := make([]string, len(cols))
	for i, c := range cols {
		qualified[i] = sql.Qualify(tt, c)
	}
	sel := sql.Select(qualified...).From(tt).
		Join(th.Table, sql.ColumnsEQ(
			sql.Qualify(th.Table, th.TargetColumn),
			sql.Qualify(tt, rel.TargetColumn),
		)).
		SelectExpr(sql.As(sql.Qualify(th.Table, th.SourceColumn), groupAlias))
	preds := []*sql.Predicate{
		sql.EQAny(sql.Qualify(th.Table, th.SourceColumn), pq.Array(ids), columnCast(s.manifest, rel.SourceColumn)),
	}
	if rel.TargetRevisions || target.Revisions {
		deleted := sql.Qualify(tt, schema.RevDeleted)
		preds = append(preds,
			sql.IsNull(sql.Qualify(tt, schema.OldRevOf)),
			sql.Or(sql.IsNull(deleted), sql.EQ(deleted, false)),
		)
	}
	sel.Where(sql.And(preds...))

	query, args, err := sel.Query()
	if err != nil {
		return nil, err
	}
	ts := &Set{client: s.client, manifest: target}
	rows, err := ts.queryRows(ctx, "select", query, args)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*Record, len(ids))
	for _, row := range rows {
		key := stringify(row[groupAlias])
		delete(row, groupAlias)
		rec, err := ts.hydrate(row)
		if err != nil {
			return nil, err
		}
		out[key] = append(out[key], rec)
	}
	return out, nil
}

type addManyOptions struct {
	errorOnConflict bool
}

// AddManyOption configures AddManyRelated.
type AddManyOption func(*addManyOptions)

// OnConflictError omits the ON CONFLICT DO NOTHING clause so inserting an
// existing pair raises a constraint error instead of being skipped.
func OnConflictError() AddManyOption {
	return func(o *addManyOptions) { o.errorOnConflict = true }
}

// AddManyRelated inserts junction rows linking sourceID to each target id.
// Duplicate pairs are skipped by default. An empty target list is a no-op
// and issues no SQL.
func (s *Set) AddManyRelated(ctx context.Context, name, sourceID string, targetIDs []string, opts ...AddManyOption) error {
	rel, _, err := s.junctionRelation(name)
	if err != nil {
		return err
	}
	if len(targetIDs) == 0 {
		return nil
	}
	var o addManyOptions
	for _, opt := range opts {
		opt(&o)
	}
	th := rel.Through
	ins := sql.Insert(th.Table).Columns(th.SourceColumn, th.TargetColumn)
	for _, tid := range targetIDs {
		ins.Values(sourceID, tid)
	}
	if !o.errorOnConflict {
		ins.OnConflictDoNothing()
	}
	query, args, err := ins.Query()
	if err != nil {
		return err
	}
	return s.exec(ctx, "insert", query, args, nil)
}

// junctionRelation resolves a relation name and requires a through spec.
func (s *Set) junctionRelation(name string) (*schema.Relation, *schema.Manifest, error) {
	rel, ok := s.manifest.Relations[name]
	if !ok || rel.Through == nil {
		return nil, nil, fmt.Errorf("model: %s has no junction relation %q (available: %s)",
			s.Table(), name, strings.Join(s.manifest.RelationNames(), ", "))
	}
	target, ok := s.client.Registry().ResolveRelation(rel)
	if !ok {
		return nil, nil, fmt.Errorf("model: relation %q targets unregistered entity %q", name, rel.Target)
	}
	return rel, target, nil
}
