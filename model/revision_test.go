package model

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/memor"
	"github.com/syssam/memor/schema"
)

func TestCreateFirstRevision(t *testing.T) {
	c, _ := newTestEnv(t)
	pages := testSet(t, c, "pages")
	author := uuid.NewString()

	r, err := pages.CreateFirstRevision(author, RevOpts{Tags: []string{"create"}})
	require.NoError(t, err)
	assert.True(t, r.IsNew())
	assert.Equal(t, author, r.Get(schema.RevAuthor))
	assert.Equal(t, []string{"create"}, r.Get(schema.RevTags))
	_, err = uuid.Parse(r.Get(schema.RevID).(string))
	require.NoError(t, err)
	assert.Nil(t, r.Get(schema.OldRevOf))
}

func TestCreateFirstRevisionRequiresRevisions(t *testing.T) {
	c, _ := newTestEnv(t)
	users := testSet(t, c, "users")

	_, err := users.CreateFirstRevision(uuid.NewString(), RevOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not revision-enabled")
}

func TestRevisionSummaryDisabled(t *testing.T) {
	c, _ := newTestEnv(t)
	pages := testSet(t, c, "pages")

	_, err := pages.CreateFirstRevision(uuid.NewString(), RevOpts{Summary: "initial"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summaries are not enabled")
}

func TestRevisionSummaryEnabled(t *testing.T) {
	c, _ := newEnv(t, true, true)
	pages := testSet(t, c, "pages")

	r, err := pages.CreateFirstRevision(uuid.NewString(), RevOpts{Summary: "initial"})
	require.NoError(t, err)
	assert.Equal(t, "initial", r.Get(schema.RevSummary))
}

func TestNewRevisionArchivesAndRestamps(t *testing.T) {
	c, mock := newRegexpEnv(t)
	pages := testSet(t, c, "pages")

	id := uuid.NewString()
	author := uuid.NewString()
	r := hydratePage(t, pages, map[string]any{"id": id, "title": "A"})
	oldRev := r.Get(schema.RevID)

	mock.ExpectQuery("INSERT INTO pages").
		WillReturnRows(sqlmock.NewRows(pagesColumns))

	require.NoError(t, r.NewRevision(context.Background(), author, RevOpts{Tags: []string{"edit"}}))

	// The receiver stays the live row under a fresh stamp.
	assert.Equal(t, id, r.ID())
	assert.Nil(t, r.Get(schema.OldRevOf))
	assert.NotEqual(t, oldRev, r.Get(schema.RevID))
	assert.Equal(t, author, r.Get(schema.RevAuthor))
	assert.Equal(t, []string{"edit"}, r.Get(schema.RevTags))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRevisionUnsavedRejected(t *testing.T) {
	c, _ := newTestEnv(t)
	pages := testSet(t, c, "pages")

	r, err := pages.New(map[string]any{"title": "A"})
	require.NoError(t, err)
	err = r.NewRevision(context.Background(), uuid.NewString(), RevOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsaved")
}

func TestNewRevisionArchiveSharesNoNestedState(t *testing.T) {
	c, mock := newRegexpEnv(t)
	pages := testSet(t, c, "pages")

	r := hydratePage(t, pages, map[string]any{
		"id":    uuid.NewString(),
		"title": "A",
		"urls":  []string{"a"},
		"meta":  []byte(`{"k":"v"}`),
	})

	mock.ExpectQuery("INSERT INTO pages").
		WillReturnRows(sqlmock.NewRows(pagesColumns))

	require.NoError(t, r.NewRevision(context.Background(), uuid.NewString(), RevOpts{}))

	// Mutating the live row must not have been visible to the archived copy,
	// so the live values survive unchanged.
	assert.Equal(t, []string{"a"}, r.Get("urls"))
	assert.Equal(t, map[string]any{"k": "v"}, r.Get("meta"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAllRevisions(t *testing.T) {
	c, mock := newRegexpEnv(t)
	pages := testSet(t, c, "pages")

	id := uuid.NewString()
	author := uuid.NewString()
	r := hydratePage(t, pages, map[string]any{"id": id, "title": "A"})

	// Archive insert, final-revision save, then the bulk history sweep.
	mock.ExpectQuery("INSERT INTO pages").
		WillReturnRows(sqlmock.NewRows(pagesColumns))
	mock.ExpectExec("UPDATE pages SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE pages SET").
		WillReturnResult(sqlmock.NewResult(0, 2))

	out, err := r.DeleteAllRevisions(context.Background(), author, RevOpts{Tags: []string{"cleanup"}})
	require.NoError(t, err)
	assert.Same(t, r, out)
	assert.Equal(t, true, out.Get(schema.RevDeleted))
	assert.Equal(t, []string{"delete", "cleanup"}, out.Get(schema.RevTags))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotStaleOrDeletedInvalidID(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	_, err := pages.GetNotStaleOrDeleted(context.Background(), "not-a-uuid")
	require.Error(t, err)
	assert.True(t, memor.IsInvalidUUID(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectGetByID(mock sqlmock.Sqlmock, id string) *sqlmock.ExpectedQuery {
	return mock.ExpectQuery("SELECT " + qualifiedPagesColumns() + " FROM pages WHERE pages.id = $1 LIMIT 1").
		WithArgs(id)
}

func TestGetNotStaleOrDeletedLive(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	id := uuid.NewString()
	cols, row := pageRow(map[string]any{"id": id, "title": "live"})
	expectGetByID(mock, id).WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))

	r, err := pages.GetNotStaleOrDeleted(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "live", r.Get("title"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotStaleOrDeletedDeleted(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	id := uuid.NewString()
	cols, row := pageRow(map[string]any{"id": id, "_rev_deleted": true})
	expectGetByID(mock, id).WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))

	_, err := pages.GetNotStaleOrDeleted(context.Background(), id)
	require.Error(t, err)
	assert.True(t, memor.IsRevisionDeleted(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotStaleOrDeletedStale(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	id := uuid.NewString()
	cols, row := pageRow(map[string]any{"id": id, "_old_rev_of": uuid.NewString()})
	expectGetByID(mock, id).WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))

	_, err := pages.GetNotStaleOrDeleted(context.Background(), id)
	require.Error(t, err)
	assert.True(t, memor.IsRevisionStale(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotStaleOrDeletedMissing(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	id := uuid.NewString()
	expectGetByID(mock, id).WillReturnRows(sqlmock.NewRows(pagesColumns))

	_, err := pages.GetNotStaleOrDeleted(context.Background(), id)
	require.Error(t, err)
	assert.True(t, memor.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMultipleNotStaleOrDeleted(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	ids := []string{uuid.NewString(), uuid.NewString()}
	cols, row := pageRow(map[string]any{"id": ids[0]})
	mock.ExpectQuery("SELECT " + qualifiedPagesColumns() + " FROM pages WHERE (pages.id = ANY($1::uuid[]) AND pages._old_rev_of IS NULL AND (pages._rev_deleted IS NULL OR pages._rev_deleted = $2))").
		WithArgs(sqlmock.AnyArg(), false).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))

	records, err := pages.GetMultipleNotStaleOrDeleted(ids).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMultipleNotStaleOrDeletedEmpty(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	records, err := pages.GetMultipleNotStaleOrDeleted(nil).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	n, err := pages.GetMultipleNotStaleOrDeleted(nil).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMultipleNotStaleOrDeletedRequiresRevisions(t *testing.T) {
	c, _ := newTestEnv(t)
	users := testSet(t, c, "users")

	_, err := users.GetMultipleNotStaleOrDeleted([]string{uuid.NewString()}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not revision-enabled")
}
