package sql

import (
	"fmt"
	"strconv"
	"strings"
)

// Builder is the low-level SQL string builder. It accumulates the statement
// text, the bound arguments and any identifier errors detected while
// building. Placeholders are always Postgres-style ($1, $2, ...) and values
// are never interpolated into the statement text; only identifiers that
// passed validation are embedded directly.
type Builder struct {
	sb   strings.Builder
	args []any
	errs []error
}

// WriteString appends the given string to the statement.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident appends the given identifier after validating it. Invalid
// identifiers are recorded as errors and nothing is written, so a malformed
// or malicious name can never reach the statement text.
func (b *Builder) Ident(s string) *Builder {
	if !isValidIdentifier(s) {
		b.errs = append(b.errs, fmt.Errorf("sql: invalid identifier %q", s))
		return b
	}
	b.sb.WriteString(s)
	return b
}

// IdentComma appends the given identifiers separated by commas.
func (b *Builder) IdentComma(ss ...string) *Builder {
	for i, s := range ss {
		if i > 0 {
			b.Comma()
		}
		b.Ident(s)
	}
	return b
}

// Comma appends ", " to the statement.
func (b *Builder) Comma() *Builder {
	b.sb.WriteString(", ")
	return b
}

// Arg binds the given value and appends its placeholder.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	b.sb.WriteString("$")
	b.sb.WriteString(strconv.Itoa(len(b.args)))
	return b
}

// Args binds the given values and appends their placeholders separated by commas.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.Comma()
		}
		b.Arg(v)
	}
	return b
}

// Nested wraps the output of f in parentheses.
func (b *Builder) Nested(f func(*Builder)) *Builder {
	b.sb.WriteString("(")
	f(b)
	b.sb.WriteString(")")
	return b
}

// AddError records an error detected while building.
func (b *Builder) AddError(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// Err returns the first error recorded while building, if any.
func (b *Builder) Err() error {
	if len(b.errs) > 0 {
		return b.errs[0]
	}
	return nil
}

// String returns the accumulated statement text.
func (b *Builder) String() string { return b.sb.String() }

// Qualify returns the table-qualified form of the given column. Both parts
// are validated when the result is embedded through Ident.
func Qualify(table, column string) string {
	return table + "." + column
}

// As returns the aliased form of the given expression. The expression is the
// caller's responsibility (built from validated parts); the alias is
// validated at write time.
func As(expr, alias string) string {
	return expr + " AS " + alias
}

// Count wraps the given expression with a COUNT aggregation.
func Count(expr string) string { return "COUNT(" + expr + ")" }

// Avg wraps the given expression with an AVG aggregation.
func Avg(expr string) string { return "AVG(" + expr + ")" }

// Sum wraps the given expression with a SUM aggregation.
func Sum(expr string) string { return "SUM(" + expr + ")" }

// Min wraps the given expression with a MIN aggregation.
func Min(expr string) string { return "MIN(" + expr + ")" }

// Max wraps the given expression with a MAX aggregation.
func Max(expr string) string { return "MAX(" + expr + ")" }

// Random returns the expression for randomized ordering.
func Random() string { return "random()" }

// Desc returns the descending ordering form of the given column.
func Desc(column string) string { return column + " DESC" }

// Asc returns the ascending ordering form of the given column.
func Asc(column string) string { return column + " ASC" }

type joinClause struct {
	kind  string // "LEFT JOIN", "JOIN"
	table string
	on    *Predicate
}

// Selector builds a SELECT statement: columns, joins, predicates, grouping,
// ordering and pagination. Zero or more chained calls followed by Query.
type Selector struct {
	columns  []string
	exprs    []string
	from     string
	joins    []joinClause
	where    *Predicate
	order    []string
	group    []string
	limit    *int
	offset   *int
	distinct bool
	locked   bool
}

// Select returns a new selector with the given validated column names.
func Select(columns ...string) *Selector {
	return (&Selector{}).Select(columns...)
}

// Select replaces the selected columns. Names are validated at build time.
func (s *Selector) Select(columns ...string) *Selector {
	s.columns = append([]string(nil), columns...)
	return s
}

// AppendSelect adds validated column names to the selection.
func (s *Selector) AppendSelect(columns ...string) *Selector {
	s.columns = append(s.columns, columns...)
	return s
}

// SelectExpr adds pre-built column expressions (aggregates, aliases) to the
// selection. Expressions are composed from validated parts by the caller.
func (s *Selector) SelectExpr(exprs ...string) *Selector {
	s.exprs = append(s.exprs, exprs...)
	return s
}

// From sets the table to select from.
func (s *Selector) From(table string) *Selector {
	s.from = table
	return s
}

// Distinct marks the selection as DISTINCT.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// Where appends the given predicate, AND-ed with any existing one.
func (s *Selector) Where(p *Predicate) *Selector {
	if p == nil {
		return s
	}
	if s.where != nil {
		s.where = And(s.where, p)
	} else {
		s.where = p
	}
	return s
}

// P returns the accumulated predicate, or nil.
func (s *Selector) P() *Predicate { return s.where }

// LeftJoin appends a LEFT JOIN on the given table with the given condition.
func (s *Selector) LeftJoin(table string, on *Predicate) *Selector {
	s.joins = append(s.joins, joinClause{kind: "LEFT JOIN", table: table, on: on})
	return s
}

// Join appends an inner JOIN on the given table with the given condition.
func (s *Selector) Join(table string, on *Predicate) *Selector {
	s.joins = append(s.joins, joinClause{kind: "JOIN", table: table, on: on})
	return s
}

// OrderBy appends ordering expressions (use Desc/Asc helpers for direction).
func (s *Selector) OrderBy(columns ...string) *Selector {
	s.order = append(s.order, columns...)
	return s
}

// GroupBy appends grouping columns.
func (s *Selector) GroupBy(columns ...string) *Selector {
	s.group = append(s.group, columns...)
	return s
}

// GroupColumns returns the grouping columns accumulated so far.
func (s *Selector) GroupColumns() []string { return s.group }

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// ForUpdate appends a FOR UPDATE row-locking clause.
func (s *Selector) ForUpdate() *Selector {
	s.locked = true
	return s
}

// Query builds the SELECT statement and returns it with its bound arguments.
func (s *Selector) Query() (string, []any, error) {
	b := &Builder{}
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	switch {
	case len(s.columns) == 0 && len(s.exprs) == 0:
		b.WriteString("*")
	default:
		for i, c := range s.columns {
			if i > 0 {
				b.Comma()
			}
			b.Ident(c)
		}
		for i, e := range s.exprs {
			if i > 0 || len(s.columns) > 0 {
				b.Comma()
			}
			b.WriteString(e)
		}
	}
	b.WriteString(" FROM ").Ident(s.from)
	for _, j := range s.joins {
		b.WriteString(" ").WriteString(j.kind).WriteString(" ").Ident(j.table)
		if j.on != nil {
			b.WriteString(" ON ")
			j.on.render(b)
		}
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.render(b)
	}
	if len(s.group) > 0 {
		b.WriteString(" GROUP BY ").IdentComma(s.group...)
	}
	if len(s.order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.order {
			if i > 0 {
				b.Comma()
			}
			b.WriteString(o)
		}
	}
	if s.limit != nil {
		b.WriteString(" LIMIT ").WriteString(strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		b.WriteString(" OFFSET ").WriteString(strconv.Itoa(*s.offset))
	}
	if s.locked {
		b.WriteString(" FOR UPDATE")
	}
	return b.String(), b.args, b.Err()
}

// InsertBuilder builds an INSERT statement.
type InsertBuilder struct {
	table     string
	columns   []string
	values    [][]any
	returning []string
	conflict  bool
	errs      []error
}

// Insert returns a new INSERT builder for the given table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Columns sets the insert columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append([]string(nil), columns...)
	return i
}

// Values appends one row of values, matching the declared columns.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	if len(values) != len(i.columns) {
		i.errs = append(i.errs, fmt.Errorf("sql: insert into %s: %d values for %d columns", i.table, len(values), len(i.columns)))
		return i
	}
	i.values = append(i.values, values)
	return i
}

// Returning sets the RETURNING columns.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = append([]string(nil), columns...)
	return i
}

// OnConflictDoNothing makes duplicate-key inserts a no-op instead of an error.
func (i *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	i.conflict = true
	return i
}

// Query builds the INSERT statement and returns it with its bound arguments.
func (i *InsertBuilder) Query() (string, []any, error) {
	b := &Builder{}
	for _, err := range i.errs {
		b.AddError(err)
	}
	if len(i.columns) == 0 || len(i.values) == 0 {
		b.AddError(fmt.Errorf("sql: insert into %s: no values", i.table))
	}
	b.WriteString("INSERT INTO ").Ident(i.table)
	b.WriteString(" (").IdentComma(i.columns...).WriteString(") VALUES ")
	for r, row := range i.values {
		if r > 0 {
			b.Comma()
		}
		b.Nested(func(b *Builder) {
			b.Args(row...)
		})
	}
	if i.conflict {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	if len(i.returning) > 0 {
		b.WriteString(" RETURNING ").IdentComma(i.returning...)
	}
	return b.String(), b.args, b.Err()
}

type updateSet struct {
	column string
	value  any
	add    bool // col = col + value
}

// UpdateBuilder builds an UPDATE statement.
type UpdateBuilder struct {
	table     string
	sets      []updateSet
	where     *Predicate
	returning []string
}

// Update returns a new UPDATE builder for the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set assigns the bound value to the given column.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.sets = append(u.sets, updateSet{column: column, value: v})
	return u
}

// Add increments the given column by the bound value.
func (u *UpdateBuilder) Add(column string, v any) *UpdateBuilder {
	u.sets = append(u.sets, updateSet{column: column, value: v, add: true})
	return u
}

// Where appends the given predicate, AND-ed with any existing one.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if p == nil {
		return u
	}
	if u.where != nil {
		u.where = And(u.where, p)
	} else {
		u.where = p
	}
	return u
}

// Returning sets the RETURNING columns.
func (u *UpdateBuilder) Returning(columns ...string) *UpdateBuilder {
	u.returning = append([]string(nil), columns...)
	return u
}

// Query builds the UPDATE statement and returns it with its bound arguments.
func (u *UpdateBuilder) Query() (string, []any, error) {
	b := &Builder{}
	if len(u.sets) == 0 {
		b.AddError(fmt.Errorf("sql: update %s: no columns to set", u.table))
	}
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for i, s := range u.sets {
		if i > 0 {
			b.Comma()
		}
		b.Ident(s.column).WriteString(" = ")
		if s.add {
			b.Ident(s.column).WriteString(" + ")
		}
		b.Arg(s.value)
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.render(b)
	}
	if len(u.returning) > 0 {
		b.WriteString(" RETURNING ").IdentComma(u.returning...)
	}
	return b.String(), b.args, b.Err()
}

// DeleteBuilder builds a DELETE statement.
type DeleteBuilder struct {
	table string
	where *Predicate
}

// Delete returns a new DELETE builder for the given table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Where appends the given predicate, AND-ed with any existing one.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	if p == nil {
		return d
	}
	if d.where != nil {
		d.where = And(d.where, p)
	} else {
		d.where = p
	}
	return d
}

// Query builds the DELETE statement and returns it with its bound arguments.
func (d *DeleteBuilder) Query() (string, []any, error) {
	b := &Builder{}
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.render(b)
	}
	return b.String(), b.args, b.Err()
}
