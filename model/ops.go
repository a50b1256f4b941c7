package model

import (
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/syssam/memor/dialect/sql"
	"github.com/syssam/memor/schema"
)

// Op is an opaque comparison descriptor: a value plus a build delegate the
// consuming query invokes once with the resolved storage column and field
// spec. Descriptors are column-blind at construction, so use them inline at
// the call site: nothing stops a descriptor built for field A from being
// attached to field B, and that misuse is on the caller. This is a
// documented sharp edge, not a gap to paper over.
type Op struct {
	value any
	build func(spec *schema.FieldSpec, column string) (*sql.Predicate, error)
}

// Value returns the descriptor's bound value.
func (o *Op) Value() any { return o.value }

func (o *Op) apply(spec *schema.FieldSpec, column string) (*sql.Predicate, error) {
	return o.build(spec, column)
}

// Neq matches rows whose field differs from the given value.
func Neq(v any) *Op {
	return &Op{value: v, build: func(spec *schema.FieldSpec, col string) (*sql.Predicate, error) {
		ev, err := encodeValue(spec, v)
		if err != nil {
			return nil, err
		}
		return sql.NEQ(col, ev), nil
	}}
}

func ordered(v any, cmp func(string, any) *sql.Predicate, name string) *Op {
	return &Op{value: v, build: func(spec *schema.FieldSpec, col string) (*sql.Predicate, error) {
		if !spec.Kind.Orderable() {
			return nil, fmt.Errorf("ops: %s requires an orderable field, %s is %s", name, col, spec.Kind)
		}
		return cmp(col, v), nil
	}}
}

// Lt matches rows whose field is below the given value. Restricted to
// orderable (numeric, temporal, string) fields.
func Lt(v any) *Op { return ordered(v, sql.LT, "lt") }

// Lte matches rows whose field is at most the given value.
func Lte(v any) *Op { return ordered(v, sql.LTE, "lte") }

// Gt matches rows whose field is above the given value.
func Gt(v any) *Op { return ordered(v, sql.GT, "gt") }

// Gte matches rows whose field is at least the given value.
func Gte(v any) *Op { return ordered(v, sql.GTE, "gte") }

type inOptions struct {
	cast string
}

// InOption configures In and NotIn.
type InOption func(*inOptions)

// Cast annotates the bound array placeholder, e.g. "::uuid[]".
func Cast(cast string) InOption {
	return func(o *inOptions) { o.cast = cast }
}

// In matches rows whose field equals one of the given values. An empty
// value list is rejected: its semantics are ambiguous and must not silently
// match everything or nothing.
func In[T any](vs []T, opts ...InOption) *Op {
	return membership(vs, false, opts)
}

// NotIn matches rows whose field equals none of the given values. Empty
// input is rejected like In.
func NotIn[T any](vs []T, opts ...InOption) *Op {
	return membership(vs, true, opts)
}

func membership[T any](vs []T, negate bool, opts []InOption) *Op {
	var o inOptions
	for _, opt := range opts {
		opt(&o)
	}
	anyVals := make([]any, len(vs))
	for i := range vs {
		anyVals[i] = vs[i]
	}
	return &Op{value: anyVals, build: func(_ *schema.FieldSpec, col string) (*sql.Predicate, error) {
		if len(anyVals) == 0 {
			if negate {
				return nil, fmt.Errorf("ops: notIn with an empty value list")
			}
			return nil, fmt.Errorf("ops: in with an empty value list")
		}
		if o.cast != "" {
			arr := pq.Array(vs)
			if negate {
				return sql.NEQAll(col, arr, o.cast), nil
			}
			return sql.EQAny(col, arr, o.cast), nil
		}
		if negate {
			return sql.NotIn(col, anyVals...), nil
		}
		return sql.In(col, anyVals...), nil
	}}
}

// Bound selects open or closed range bounds, independently per side.
type Bound int

const (
	BoundClosed Bound = iota
	BoundOpen
)

type rangeOptions struct {
	left  Bound
	right Bound
}

// RangeOption configures Between and NotBetween.
type RangeOption func(*rangeOptions)

// LeftBound sets the lower bound mode.
func LeftBound(b Bound) RangeOption {
	return func(o *rangeOptions) { o.left = b }
}

// RightBound sets the upper bound mode.
func RightBound(b Bound) RangeOption {
	return func(o *rangeOptions) { o.right = b }
}

// Between matches rows whose field lies between the two values, rendered
// as an AND group of two comparisons. Bounds are closed unless overridden.
func Between(lower, upper any, opts ...RangeOption) *Op {
	return rangeOp(lower, upper, false, opts)
}

// NotBetween matches rows whose field lies outside the range, rendered as
// an OR group of the two inverted comparisons.
func NotBetween(lower, upper any, opts ...RangeOption) *Op {
	return rangeOp(lower, upper, true, opts)
}

func rangeOp(lower, upper any, negate bool, opts []RangeOption) *Op {
	var o rangeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Op{value: []any{lower, upper}, build: func(spec *schema.FieldSpec, col string) (*sql.Predicate, error) {
		if !spec.Kind.Orderable() {
			return nil, fmt.Errorf("ops: between requires an orderable field, %s is %s", col, spec.Kind)
		}
		lo, hi := sql.GTE, sql.LTE
		if o.left == BoundOpen {
			lo = sql.GT
		}
		if o.right == BoundOpen {
			hi = sql.LT
		}
		if !negate {
			return sql.And(lo(col, lower), hi(col, upper)), nil
		}
		nlo, nhi := sql.LT, sql.GT
		if o.left == BoundOpen {
			nlo = sql.LTE
		}
		if o.right == BoundOpen {
			nhi = sql.GTE
		}
		return sql.Or(nlo(col, lower), nhi(col, upper)), nil
	}}
}

// ContainsAll matches rows whose array field is a superset of the given
// values. A scalar is normalized into a one-element list.
func ContainsAll(v any) *Op {
	return arrayOp(v, sql.ArrayContains)
}

// ContainsAny matches rows whose array field shares at least one element
// with the given values. A scalar is normalized into a one-element list.
func ContainsAny(v any) *Op {
	return arrayOp(v, sql.ArrayOverlaps)
}

func arrayOp(v any, cmp func(string, any) *sql.Predicate) *Op {
	return &Op{value: v, build: func(spec *schema.FieldSpec, col string) (*sql.Predicate, error) {
		switch spec.Kind {
		case schema.KindStringArray:
			ss, err := toStringSlice(v)
			if err != nil {
				return nil, fmt.Errorf("ops: %s: %w", col, err)
			}
			return cmp(col, pq.Array(ss)), nil
		case schema.KindIntArray:
			ev, err := encodeValue(spec, normalizeIntInput(v))
			if err != nil {
				return nil, fmt.Errorf("ops: %s: %w", col, err)
			}
			return cmp(col, ev), nil
		default:
			return nil, fmt.Errorf("ops: %s is not an array field", col)
		}
	}}
}

func normalizeIntInput(v any) any {
	switch n := v.(type) {
	case int:
		return []int{n}
	case int64:
		return []int64{n}
	}
	return v
}

// JSONContains matches rows whose JSONB field contains the given object
// (containment, not equality): the serialized object must be a subtree of
// the stored value.
func JSONContains(obj any) *Op {
	return &Op{value: obj, build: func(spec *schema.FieldSpec, col string) (*sql.Predicate, error) {
		if spec.Kind != schema.KindJSON {
			return nil, fmt.Errorf("ops: %s is not a json field", col)
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("ops: jsonContains: %w", err)
		}
		return sql.JSONContains(col, data), nil
	}}
}

// Not matches rows whose boolean field is not true, including NULL.
func Not() *Op {
	return &Op{build: func(_ *schema.FieldSpec, col string) (*sql.Predicate, error) {
		return sql.IsNotTrue(col), nil
	}}
}

// Like matches rows by case-sensitive pattern.
func Like(pattern string) *Op {
	return patternOp(pattern, sql.Like)
}

// NotLike is the negation of Like.
func NotLike(pattern string) *Op {
	return patternOp(pattern, sql.NotLike)
}

// ILike matches rows by case-insensitive pattern.
func ILike(pattern string) *Op {
	return patternOp(pattern, sql.ILike)
}

// NotILike is the negation of ILike.
func NotILike(pattern string) *Op {
	return patternOp(pattern, sql.NotILike)
}

func patternOp(pattern string, cmp func(string, string) *sql.Predicate) *Op {
	return &Op{value: pattern, build: func(_ *schema.FieldSpec, col string) (*sql.Predicate, error) {
		return cmp(col, pattern), nil
	}}
}
