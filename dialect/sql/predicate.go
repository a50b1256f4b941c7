package sql

// Predicate is one node of a WHERE condition tree: either a leaf comparison
// or an AND/OR group of nested predicates. Predicates are independent of the
// statement they end up in; rendering happens against the consuming
// builder so placeholder numbering stays contiguous across the statement.
type Predicate struct {
	fn func(*Builder)
}

// P returns a predicate that renders through the given function. It is the
// escape hatch the higher layers use for fragments the combinators below do
// not cover; it is not part of the operator surface exposed to callers.
func P(fn func(*Builder)) *Predicate {
	return &Predicate{fn: fn}
}

func (p *Predicate) render(b *Builder) { p.fn(b) }

func group(sep string, preds []*Predicate) *Predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	return P(func(b *Builder) {
		b.Nested(func(b *Builder) {
			for i, p := range preds {
				if i > 0 {
					b.WriteString(sep)
				}
				p.render(b)
			}
		})
	})
}

// And groups the given predicates with AND.
func And(preds ...*Predicate) *Predicate {
	return group(" AND ", preds)
}

// Or groups the given predicates with OR.
func Or(preds ...*Predicate) *Predicate {
	return group(" OR ", preds)
}

// Not negates the given predicate.
func Not(p *Predicate) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("NOT ")
		b.Nested(func(b *Builder) {
			p.render(b)
		})
	})
}

func comparison(column, op string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" ").WriteString(op).WriteString(" ").Arg(v)
	})
}

// EQ returns a column = value predicate.
func EQ(column string, v any) *Predicate { return comparison(column, "=", v) }

// NEQ returns a column <> value predicate.
func NEQ(column string, v any) *Predicate { return comparison(column, "<>", v) }

// LT returns a column < value predicate.
func LT(column string, v any) *Predicate { return comparison(column, "<", v) }

// LTE returns a column <= value predicate.
func LTE(column string, v any) *Predicate { return comparison(column, "<=", v) }

// GT returns a column > value predicate.
func GT(column string, v any) *Predicate { return comparison(column, ">", v) }

// GTE returns a column >= value predicate.
func GTE(column string, v any) *Predicate { return comparison(column, ">=", v) }

// ColumnsEQ returns a column-to-column equality predicate. No value is
// bound; both sides are validated identifiers (used for join conditions).
func ColumnsEQ(left, right string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(left).WriteString(" = ").Ident(right)
	})
}

// In returns a column IN (values...) predicate.
func In(column string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IN ")
		b.Nested(func(b *Builder) {
			b.Args(vs...)
		})
	})
}

// NotIn returns a column NOT IN (values...) predicate.
func NotIn(column string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" NOT IN ")
		b.Nested(func(b *Builder) {
			b.Args(vs...)
		})
	})
}

// EQAny returns a column = ANY($n) predicate. The bound value is expected to
// be an array value (pq.Array); cast optionally annotates the placeholder,
// e.g. "::uuid[]".
func EQAny(column string, v any, cast string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" = ANY(")
		b.Arg(v)
		if cast != "" {
			b.WriteString(cast)
		}
		b.WriteString(")")
	})
}

// NEQAll returns a column <> ALL($n) predicate, the complement of EQAny.
func NEQAll(column string, v any, cast string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" <> ALL(")
		b.Arg(v)
		if cast != "" {
			b.WriteString(cast)
		}
		b.WriteString(")")
	})
}

// IsNull returns a column IS NULL predicate.
func IsNull(column string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IS NULL")
	})
}

// NotNull returns a column IS NOT NULL predicate.
func NotNull(column string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IS NOT NULL")
	})
}

// IsNotTrue returns a column IS NOT true predicate. Unlike "= false" it also
// matches NULL, which is what boolean negation means for nullable flags.
func IsNotTrue(column string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IS NOT true")
	})
}

// Like returns a case-sensitive pattern predicate.
func Like(column, pattern string) *Predicate { return comparison(column, "LIKE", pattern) }

// NotLike returns a negated case-sensitive pattern predicate.
func NotLike(column, pattern string) *Predicate { return comparison(column, "NOT LIKE", pattern) }

// ILike returns a case-insensitive pattern predicate.
func ILike(column, pattern string) *Predicate { return comparison(column, "ILIKE", pattern) }

// NotILike returns a negated case-insensitive pattern predicate.
func NotILike(column, pattern string) *Predicate { return comparison(column, "NOT ILIKE", pattern) }

// ArrayContains returns a column @> value predicate: the column's array is a
// superset of the bound array value.
func ArrayContains(column string, v any) *Predicate { return comparison(column, "@>", v) }

// ArrayOverlaps returns a column && value predicate: the column's array
// shares at least one element with the bound array value.
func ArrayOverlaps(column string, v any) *Predicate { return comparison(column, "&&", v) }

// JSONContains returns a column @> $n::jsonb predicate against the
// serialized object.
func JSONContains(column string, data []byte) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" @> ")
		b.Arg(data)
		b.WriteString("::jsonb")
	})
}

// ExprP returns a raw predicate with positional arguments. Placeholders in
// the fragment are written as ?, renumbered to the statement's $n sequence
// at render time. Internal escape hatch; not reachable from the operator
// surface.
func ExprP(fragment string, args ...any) *Predicate {
	return P(func(b *Builder) {
		n := 0
		for _, r := range fragment {
			if r == '?' {
				if n < len(args) {
					b.Arg(args[n])
					n++
				}
				continue
			}
			b.sb.WriteRune(r)
		}
	})
}
