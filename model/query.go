package model

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/syssam/memor"
	"github.com/syssam/memor/dialect/sql"
	"github.com/syssam/memor/schema"
)

// Query accumulates predicates, joins, ordering, grouping and pagination
// against one entity table and renders parameterized SQL on a terminal
// call. All chain methods are sticky on error: the first failure is stored
// and returned by the terminal, so chains stay unconditional at call sites.
//
// Revision guards for revision-enabled entities are injected exactly once,
// at the first terminal, so IncludeDeleted and IncludeStale take effect
// regardless of their position in the chain.
type Query struct {
	set *Set
	err error

	// zero short-circuits terminals to an empty result without issuing SQL.
	zero bool

	columns   []string
	sensitive []string
	preds     []*sql.Predicate
	orderBy   []string
	groupCols []string
	limit     *int
	offset    *int
	joins     []*joinRequest

	includeDeleted bool
	includeStale   bool
	guardsApplied  bool
}

func newQuery(s *Set) *Query {
	return &Query{set: s}
}

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

// Err returns the first error recorded by the chain, if any.
func (q *Query) Err() error { return q.err }

func (q *Query) qualify(column string) string {
	return sql.Qualify(q.set.manifest.Table, column)
}

func (q *Query) resolve(name string) (string, *schema.FieldSpec, error) {
	return resolveField(q.set.manifest, name)
}

// Where applies a predicate literal: plain values become equality
// comparisons after logical-to-storage resolution, nil becomes IS NULL,
// and *Op descriptors invoke their build delegate. Keys are applied in
// sorted order so the rendered SQL is deterministic. Multiple Where calls
// AND together.
func (q *Query) Where(lit Literal) *Query {
	if q.err != nil {
		return q
	}
	keys := make([]string, 0, len(lit))
	for k := range lit {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p, err := q.literalPred(k, lit[k])
		if err != nil {
			return q.fail(err)
		}
		q.preds = append(q.preds, p)
	}
	return q
}

// OrWhere appends one OR group: each literal is applied as an AND group of
// its own entries, and the groups are joined with OR. An empty call is a
// no-op.
func (q *Query) OrWhere(lits ...Literal) *Query {
	if q.err != nil || len(lits) == 0 {
		return q
	}
	groups := make([]*sql.Predicate, 0, len(lits))
	for _, lit := range lits {
		keys := make([]string, 0, len(lit))
		for k := range lit {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ps := make([]*sql.Predicate, 0, len(keys))
		for _, k := range keys {
			p, err := q.literalPred(k, lit[k])
			if err != nil {
				return q.fail(err)
			}
			ps = append(ps, p)
		}
		if len(ps) > 0 {
			groups = append(groups, sql.And(ps...))
		}
	}
	if len(groups) > 0 {
		q.preds = append(q.preds, sql.Or(groups...))
	}
	return q
}

func (q *Query) literalPred(field string, v any) (*sql.Predicate, error) {
	col, spec, err := q.resolve(field)
	if err != nil {
		return nil, err
	}
	col = q.qualify(col)
	if op, ok := v.(*Op); ok {
		return op.apply(spec, col)
	}
	if v == nil {
		return sql.IsNull(col), nil
	}
	ev, err := encodeValue(spec, v)
	if err != nil {
		return nil, err
	}
	return sql.EQ(col, ev), nil
}

// View restricts the selected columns to a named column view declared in
// the manifest.
func (q *Query) View(name string) *Query {
	if q.err != nil {
		return q
	}
	cols, err := q.set.manifest.View(name)
	if err != nil {
		return q.fail(err)
	}
	q.columns = cols
	return q
}

// Include opts the named sensitive fields into the SELECT column set.
// Sensitive columns never appear in results unless listed here.
func (q *Query) Include(fields ...string) *Query {
	if q.err != nil {
		return q
	}
	for _, f := range fields {
		col, ok := q.set.manifest.SensitiveColumn(f)
		if !ok {
			return q.fail(fmt.Errorf("model: %q is not a sensitive field of %s", f, q.set.Table()))
		}
		q.sensitive = append(q.sensitive, col)
	}
	return q
}

// OrderBy appends an ascending order over the given logical field.
func (q *Query) OrderBy(field string) *Query {
	return q.order(field, false)
}

// OrderByDesc appends a descending order over the given logical field.
func (q *Query) OrderByDesc(field string) *Query {
	return q.order(field, true)
}

func (q *Query) order(field string, desc bool) *Query {
	if q.err != nil {
		return q
	}
	col, _, err := q.resolve(field)
	if err != nil {
		return q.fail(err)
	}
	col = q.qualify(col)
	if desc {
		col = sql.Desc(col)
	}
	q.orderBy = append(q.orderBy, col)
	return q
}

// GroupBy appends grouping columns for AggregateGrouped.
func (q *Query) GroupBy(fields ...string) *Query {
	if q.err != nil {
		return q
	}
	for _, f := range fields {
		col, _, err := q.resolve(f)
		if err != nil {
			return q.fail(err)
		}
		q.groupCols = append(q.groupCols, col)
	}
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.limit = &n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	q.offset = &n
	return q
}

// IncludeDeleted disables the deleted-row revision guard for this query.
func (q *Query) IncludeDeleted() *Query {
	q.includeDeleted = true
	return q
}

// IncludeStale disables the archived-row revision guard for this query.
func (q *Query) IncludeStale() *Query {
	q.includeStale = true
	return q
}

func (q *Query) applyGuards() {
	if q.guardsApplied {
		return
	}
	q.guardsApplied = true
	if !q.set.manifest.Revisions {
		return
	}
	if !q.includeStale {
		q.preds = append(q.preds, sql.IsNull(q.qualify(schema.OldRevOf)))
	}
	if !q.includeDeleted {
		col := q.qualify(schema.RevDeleted)
		q.preds = append(q.preds, sql.Or(sql.IsNull(col), sql.EQ(col, false)))
	}
}

func (q *Query) wherePred() *sql.Predicate {
	switch len(q.preds) {
	case 0:
		return nil
	case 1:
		return q.preds[0]
	default:
		return sql.And(q.preds...)
	}
}

// baseColumns returns the storage columns the query selects from the base
// table: the view or default non-sensitive set, plus sensitive opt-ins.
func (q *Query) baseColumns() []string {
	cols := q.columns
	if cols == nil {
		cols = q.set.manifest.Columns()
	}
	out := make([]string, 0, len(cols)+len(q.sensitive))
	out = append(out, cols...)
	for _, s := range q.sensitive {
		dup := false
		for _, c := range out {
			if c == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

func (q *Query) selector() *sql.Selector {
	sel := sql.Select().From(q.set.Table())
	if p := q.wherePred(); p != nil {
		sel.Where(p)
	}
	if len(q.orderBy) > 0 {
		sel.OrderBy(q.orderBy...)
	}
	if q.limit != nil {
		sel.Limit(*q.limit)
	}
	if q.offset != nil {
		sel.Offset(*q.offset)
	}
	return sel
}

// Run executes the SELECT and hydrates the matching rows. Joins requested
// via GetJoin are attached per strategy: inline LEFT JOIN for single-row
// relations, a batched follow-up query per fanning-out relation.
func (q *Query) Run(ctx context.Context) ([]*Record, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.zero {
		return []*Record{}, nil
	}
	q.applyGuards()
	inline, batched := q.splitJoins()

	sel := q.selector()
	cols := q.baseColumns()
	qualified := make([]string, len(cols))
	for i, c := range cols {
		qualified[i] = q.qualify(c)
	}
	sel.Select(qualified...)
	for _, j := range inline {
		j.decorate(q, sel)
	}

	query, args, err := sel.Query()
	if err != nil {
		return nil, err
	}
	rows, err := q.set.queryRows(ctx, "select", query, args)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		sub := splitJoinColumns(row, inline)
		r, err := q.set.hydrate(row)
		if err != nil {
			return nil, err
		}
		for _, j := range inline {
			if err := j.attachInline(q, r, sub[j.rel.Name]); err != nil {
				return nil, err
			}
		}
		records = append(records, r)
	}
	if len(batched) > 0 {
		if err := q.runBatchedJoins(ctx, records, batched); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// First runs the query limited to one row and returns it, or a
// NotFoundError when nothing matched.
func (q *Query) First(ctx context.Context) (*Record, error) {
	records, err := q.Limit(1).Run(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, memor.NewNotFoundError(q.set.Table())
	}
	return records[0], nil
}

// Count returns the number of matching rows.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	if q.zero {
		return 0, nil
	}
	q.applyGuards()
	sel := sql.Select().SelectExpr(sql.Count("*")).From(q.set.Table())
	if p := q.wherePred(); p != nil {
		sel.Where(p)
	}
	query, args, err := sel.Query()
	if err != nil {
		return 0, err
	}
	rows := &sql.Rows{}
	if err := q.set.client.Driver().Query(ctx, query, args, rows); err != nil {
		return 0, memor.TranslateOp(q.set.Table(), "count", err)
	}
	defer rows.Close()
	n, err := sql.ScanInt64(rows)
	if err != nil {
		return 0, memor.TranslateOp(q.set.Table(), "count", err)
	}
	return n, nil
}

// Average returns the mean of a numeric field over the matching rows, or
// nil when no row matched.
func (q *Query) Average(ctx context.Context, field string) (*float64, error) {
	if q.err != nil {
		return nil, q.err
	}
	col, spec, err := q.resolve(field)
	if err != nil {
		return nil, err
	}
	if !spec.Kind.Numeric() {
		return nil, fmt.Errorf("model: average requires a numeric field, %s is %s", field, spec.Kind)
	}
	if q.zero {
		return nil, nil
	}
	q.applyGuards()
	sel := sql.Select().SelectExpr(sql.Avg(q.qualify(col))).From(q.set.Table())
	if p := q.wherePred(); p != nil {
		sel.Where(p)
	}
	query, args, err := sel.Query()
	if err != nil {
		return nil, err
	}
	rows := &sql.Rows{}
	if err := q.set.client.Driver().Query(ctx, query, args, rows); err != nil {
		return nil, memor.TranslateOp(q.set.Table(), "average", err)
	}
	defer rows.Close()
	v, err := sql.ScanNullFloat(rows)
	if err != nil {
		return nil, memor.TranslateOp(q.set.Table(), "average", err)
	}
	if !v.Valid {
		return nil, nil
	}
	avg := v.Float64
	return &avg, nil
}

var aggregateFuncs = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

// AggregateGrouped computes one aggregate per group and returns a mapping
// from the stringified first group key to the numeric result. GroupBy must
// have been called first. The field argument names the aggregated field;
// it may be empty only for COUNT, which then counts rows.
func (q *Query) AggregateGrouped(ctx context.Context, fn, field string) (map[string]float64, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(q.groupCols) == 0 {
		return nil, fmt.Errorf("model: aggregateGrouped requires groupBy")
	}
	fn = strings.ToUpper(fn)
	if !aggregateFuncs[fn] {
		return nil, fmt.Errorf("model: unsupported aggregate function %q", fn)
	}
	expr := "*"
	if field != "" {
		col, _, err := q.resolve(field)
		if err != nil {
			return nil, err
		}
		expr = q.qualify(col)
	} else if fn != "COUNT" {
		return nil, fmt.Errorf("model: %s requires an aggregate field", fn)
	}
	if q.zero {
		return map[string]float64{}, nil
	}
	q.applyGuards()

	keyCol := q.groupCols[0]
	grouped := make([]string, len(q.groupCols))
	for i, c := range q.groupCols {
		grouped[i] = q.qualify(c)
	}
	sel := sql.Select(grouped...).From(q.set.Table()).
		SelectExpr(sql.As(fn+"("+expr+")", "aggregate_value")).
		GroupBy(grouped...)
	if p := q.wherePred(); p != nil {
		sel.Where(p)
	}
	query, args, err := sel.Query()
	if err != nil {
		return nil, err
	}
	rows, err := q.set.queryRows(ctx, "aggregate", query, args)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		v, err := toFloat(row["aggregate_value"])
		if err != nil {
			return nil, fmt.Errorf("model: aggregateGrouped: %w", err)
		}
		out[stringify(row[keyCol])] = v
	}
	return out, nil
}

// IncrementOption configures Increment.
type IncrementOption func(*incrementOptions)

type incrementOptions struct {
	returning []string
}

// Returning asks Increment to return the named logical fields of the
// updated rows.
func Returning(fields ...string) IncrementOption {
	return func(o *incrementOptions) { o.returning = fields }
}

// Increment atomically adds amount to a numeric field of the matching
// rows. It refuses to run without a WHERE clause, so a forgotten predicate
// cannot turn into a full-table update. Joins are not supported. With a
// Returning option it reports the post-increment rows remapped to logical
// field names.
func (q *Query) Increment(ctx context.Context, field string, amount any, opts ...IncrementOption) ([]map[string]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	var o incrementOptions
	for _, opt := range opts {
		opt(&o)
	}
	if len(q.preds) == 0 {
		return nil, fmt.Errorf("model: increment on %s without a where clause", q.set.Table())
	}
	if len(q.joins) > 0 {
		return nil, fmt.Errorf("model: increment does not support joins")
	}
	col, spec, err := q.resolve(field)
	if err != nil {
		return nil, err
	}
	if !spec.Kind.Numeric() {
		return nil, fmt.Errorf("model: increment requires a numeric field, %s is %s", field, spec.Kind)
	}
	q.applyGuards()

	upd := sql.Update(q.set.Table()).Add(col, amount).Where(q.wherePred())
	if len(o.returning) > 0 {
		cols := make([]string, len(o.returning))
		for i, f := range o.returning {
			c, _, err := q.resolve(f)
			if err != nil {
				return nil, err
			}
			cols[i] = c
		}
		upd.Returning(cols...)
		query, args, err := upd.Query()
		if err != nil {
			return nil, err
		}
		rows, err := q.set.queryRows(ctx, "increment", query, args)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(rows))
		for i, row := range rows {
			logical := make(map[string]any, len(row))
			for c, v := range row {
				if name, ok := q.set.manifest.LogicalName(c); ok {
					logical[name] = v
				} else {
					logical[c] = v
				}
			}
			out[i] = logical
		}
		return out, nil
	}
	query, args, err := upd.Query()
	if err != nil {
		return nil, err
	}
	if err := q.set.exec(ctx, "increment", query, args, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

// Delete removes all rows matching the active predicate set and reports
// the number of deleted rows.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	if q.zero {
		return 0, nil
	}
	q.applyGuards()
	del := sql.Delete(q.set.Table())
	if p := q.wherePred(); p != nil {
		del.Where(p)
	}
	query, args, err := del.Query()
	if err != nil {
		return 0, err
	}
	var res stdsql.Result
	if err := q.set.exec(ctx, "delete", query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteByID removes exactly the row with the given physical id,
// regardless of any accumulated predicates or revision guards.
func (q *Query) DeleteByID(ctx context.Context, id string) error {
	if q.err != nil {
		return q.err
	}
	col, _, err := q.resolve("id")
	if err != nil {
		return err
	}
	del := sql.Delete(q.set.Table()).Where(sql.EQ(q.qualify(col), id))
	query, args, err := del.Query()
	if err != nil {
		return err
	}
	return q.set.exec(ctx, "delete", query, args, nil)
}

// Sample returns up to n matching rows in random order.
func (q *Query) Sample(ctx context.Context, n int) ([]*Record, error) {
	if q.err != nil {
		return nil, q.err
	}
	if n <= 0 || q.zero {
		return []*Record{}, nil
	}
	q.applyGuards()
	cols := q.baseColumns()
	qualified := make([]string, len(cols))
	for i, c := range cols {
		qualified[i] = q.qualify(c)
	}
	sel := sql.Select(qualified...).From(q.set.Table()).
		OrderBy(sql.Random()).Limit(n)
	if p := q.wherePred(); p != nil {
		sel.Where(p)
	}
	query, args, err := sel.Query()
	if err != nil {
		return nil, err
	}
	rows, err := q.set.queryRows(ctx, "select", query, args)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		r, err := q.set.hydrate(row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	case nil:
		return 0, fmt.Errorf("aggregate value is null")
	default:
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
}
