package memor

import (
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateConstraint(t *testing.T) {
	pqe := &pq.Error{
		Code:       "23505",
		Message:    "duplicate key value violates unique constraint",
		Detail:     "Key (slug)=(home) already exists.",
		Constraint: "pages_slug_key",
	}
	err := Translate(pqe)
	require.True(t, IsConstraintError(err))
	var ce *ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "pages_slug_key", ce.Constraint())
	assert.Contains(t, ce.Error(), "duplicate key")
	assert.Contains(t, ce.Error(), "already exists")
}

func TestTranslateInvalidUUID(t *testing.T) {
	err := Translate(&pq.Error{Code: "22P02", Message: "invalid input syntax for type uuid"})
	assert.True(t, IsInvalidUUID(err))
}

func TestTranslateConnection(t *testing.T) {
	for _, code := range []pq.ErrorCode{"08006", "28P01", "53300", "57P01"} {
		err := Translate(&pq.Error{Code: code})
		assert.True(t, IsConnectionError(err), string(code))
	}
	assert.True(t, IsConnectionError(Translate(driver.ErrBadConn)))
}

func TestTranslateUnclassified(t *testing.T) {
	err := Translate(errors.New("boom"))
	require.True(t, IsQueryError(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestTranslateIdempotent(t *testing.T) {
	orig := NewNotFoundError("pages")
	assert.Same(t, error(orig), Translate(orig))
	assert.Nil(t, Translate(nil))
}

func TestTranslateOpAttachesContext(t *testing.T) {
	err := TranslateOp("pages", "select", errors.New("boom"))
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "pages", qe.Entity)
	assert.Equal(t, "select", qe.Op)

	// Already-contextualized errors keep their context.
	err = TranslateOp("users", "insert", err)
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "pages", qe.Entity)
}

func TestNotFoundSentinel(t *testing.T) {
	err := NewNotFoundErrorWithID("pages", "abc")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "pages", err.Label())
	assert.Equal(t, "abc", err.ID())
	assert.Contains(t, err.Error(), "id=abc")
}

func TestRevisionSentinels(t *testing.T) {
	deleted := &RevisionDeletedError{ID: "x"}
	assert.True(t, errors.Is(deleted, ErrRevisionDeleted))
	assert.True(t, IsRevisionDeleted(deleted))

	stale := &RevisionStaleError{ID: "x"}
	assert.True(t, errors.Is(stale, ErrRevisionStale))
	assert.True(t, IsRevisionStale(stale))
	assert.False(t, IsRevisionStale(deleted))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("title", errors.New("too long"))
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), `"title"`)
	assert.Contains(t, err.Error(), "too long")
}

func TestDuplicateSlugName(t *testing.T) {
	wrap := NewConstraintError("dup", "pages_slug_key", nil)
	err := NewDuplicateSlugNameError("slug", "home", wrap)
	assert.True(t, IsDuplicateSlugName(err))
	assert.Contains(t, err.Error(), `"home"`)
	assert.True(t, IsConstraintError(err))
}
