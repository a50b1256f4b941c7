package model

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/memor/schema"
)

func TestGetJoinInline(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	authorID := uuid.NewString()
	cols := append(append([]string{}, pagesColumns...), "_memor_creator_id", "_memor_creator_name")
	_, withAuthor := pageRow(map[string]any{"author_id": authorID})
	_, orphan := pageRow(nil)

	mock.ExpectQuery("SELECT " + qualifiedPagesColumns() + ", users.id AS _memor_creator_id, users.name AS _memor_creator_name FROM pages LEFT JOIN users ON pages.author_id = users.id WHERE (pages._old_rev_of IS NULL AND (pages._rev_deleted IS NULL OR pages._rev_deleted = $1))").
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(append(withAuthor, authorID, "ada")...).
			AddRow(append(orphan, nil, nil)...))

	records, err := newQuery(pages).GetJoin(JoinSpec{"creator": true}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	creator, ok := records[0].Related("creator").(*Record)
	require.True(t, ok)
	assert.Equal(t, "ada", creator.Get("name"))
	// A LEFT JOIN miss yields a nil slot, not an empty record.
	assert.Nil(t, records[1].Related("creator"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJoinInlineKeepsSourceColumn(t *testing.T) {
	// A relation named after its own source column must not shadow the
	// base column in the scanned row.
	c, mock := newTestEnv(t)
	require.NoError(t, c.reg.Register(&schema.Manifest{
		Table: "articles",
		Fields: map[string]*schema.FieldSpec{
			"id":       {Kind: schema.KindUUID},
			"authorId": {Kind: schema.KindUUID},
		},
		Relations: map[string]*schema.Relation{
			"author": {Target: "users", SourceColumn: "author_id"},
		},
	}))
	articles := testSet(t, c, "articles")

	articleID := uuid.NewString()
	authorID := uuid.NewString()
	mock.ExpectQuery("SELECT articles.author_id, articles.id, users.id AS _memor_author_id, users.name AS _memor_author_name FROM articles LEFT JOIN users ON articles.author_id = users.id").
		WillReturnRows(sqlmock.NewRows([]string{"author_id", "id", "_memor_author_id", "_memor_author_name"}).
			AddRow(authorID, articleID, nil, nil))

	records, err := newQuery(articles).GetJoin(JoinSpec{"author": true}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, authorID, records[0].Get("authorId"))
	assert.Nil(t, records[0].Related("author"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJoinBatchedThrough(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	pid := uuid.NewString()
	cols, row := pageRow(map[string]any{"id": pid})
	mock.ExpectQuery("SELECT " + qualifiedPagesColumns() + " FROM pages WHERE (pages._old_rev_of IS NULL AND (pages._rev_deleted IS NULL OR pages._rev_deleted = $1))").
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))
	mock.ExpectQuery("SELECT tags.id, tags.name, pages_tags.page_id AS _memor_group FROM tags JOIN pages_tags ON pages_tags.tag_id = tags.id WHERE pages_tags.page_id = ANY($1::uuid[])").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "_memor_group"}).
			AddRow(uuid.NewString(), "go", pid).
			AddRow(uuid.NewString(), "sql", pid))

	records, err := newQuery(pages).GetJoin(JoinSpec{"tags": true}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	tags, ok := records[0].Related("tags").([]*Record)
	require.True(t, ok)
	require.Len(t, tags, 2)
	assert.Equal(t, "go", tags[0].Get("name"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJoinConfigForcesBatched(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	authorID := uuid.NewString()
	cols, row := pageRow(map[string]any{"author_id": authorID})
	mock.ExpectQuery("SELECT " + qualifiedPagesColumns() + " FROM pages WHERE (pages._old_rev_of IS NULL AND (pages._rev_deleted IS NULL OR pages._rev_deleted = $1))").
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))
	mock.ExpectQuery("SELECT users.id, users.name, users.id AS _memor_group FROM users WHERE (users.id = ANY($1::uuid[]) AND users.name = $2) ORDER BY users.name DESC LIMIT 1").
		WithArgs(sqlmock.AnyArg(), "ada").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "_memor_group"}).
			AddRow(authorID, "ada", authorID))

	records, err := newQuery(pages).
		GetJoin(JoinSpec{"creator": JoinConfig{
			Where:     Literal{"name": "ada"},
			OrderBy:   "name",
			OrderDesc: true,
			Limit:     1,
		}}).
		Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	creator, ok := records[0].Related("creator").(*Record)
	require.True(t, ok)
	assert.Equal(t, "ada", creator.Get("name"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJoinRelationCondition(t *testing.T) {
	c, mock := newTestEnv(t)
	require.NoError(t, c.reg.Register(&schema.Manifest{
		Table: "notes",
		Fields: map[string]*schema.FieldSpec{
			"id":       {Kind: schema.KindUUID},
			"authorId": {Kind: schema.KindUUID},
		},
		Relations: map[string]*schema.Relation{
			"owner": {Target: "users", SourceColumn: "author_id", Condition: "users.name IS NOT NULL"},
		},
	}))
	notes := testSet(t, c, "notes")

	noteID := uuid.NewString()
	authorID := uuid.NewString()

	// The condition joins the ON clause of the inline path.
	mock.ExpectQuery("SELECT notes.author_id, notes.id, users.id AS _memor_owner_id, users.name AS _memor_owner_name FROM notes LEFT JOIN users ON (notes.author_id = users.id AND users.name IS NOT NULL)").
		WillReturnRows(sqlmock.NewRows([]string{"author_id", "id", "_memor_owner_id", "_memor_owner_name"}).
			AddRow(authorID, noteID, authorID, "ada"))
	records, err := newQuery(notes).GetJoin(JoinSpec{"owner": true}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	owner, ok := records[0].Related("owner").(*Record)
	require.True(t, ok)
	assert.Equal(t, "ada", owner.Get("name"))

	// And the WHERE clause of the batched path.
	mock.ExpectQuery("SELECT notes.author_id, notes.id FROM notes").
		WillReturnRows(sqlmock.NewRows([]string{"author_id", "id"}).AddRow(authorID, noteID))
	mock.ExpectQuery("SELECT users.id, users.name, users.id AS _memor_group FROM users WHERE (users.id = ANY($1::uuid[]) AND users.name IS NOT NULL)").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "_memor_group"}).
			AddRow(authorID, "ada", authorID))
	records, err = newQuery(notes).GetJoin(JoinSpec{"owner": JoinConfig{}}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJoinBatchedMissYieldsEmptySlice(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	cols, row := pageRow(nil)
	mock.ExpectQuery("SELECT " + qualifiedPagesColumns() + " FROM pages WHERE (pages._old_rev_of IS NULL AND (pages._rev_deleted IS NULL OR pages._rev_deleted = $1))").
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))
	mock.ExpectQuery("SELECT tags.id, tags.name, pages_tags.page_id AS _memor_group FROM tags JOIN pages_tags ON pages_tags.tag_id = tags.id WHERE pages_tags.page_id = ANY($1::uuid[])").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "_memor_group"}))

	records, err := newQuery(pages).GetJoin(JoinSpec{"tags": true}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	tags, ok := records[0].Related("tags").([]*Record)
	require.True(t, ok)
	assert.Empty(t, tags)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJoinUnknownRelation(t *testing.T) {
	c, _ := newTestEnv(t)
	pages := testSet(t, c, "pages")

	_, err := newQuery(pages).GetJoin(JoinSpec{"bogus": true}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no relation "bogus"`)
	assert.Contains(t, err.Error(), "creator, tags")
}

func TestGetJoinBadValue(t *testing.T) {
	c, _ := newTestEnv(t)
	pages := testSet(t, c, "pages")

	_, err := newQuery(pages).GetJoin(JoinSpec{"creator": 42}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be true or a JoinConfig")
}

func TestLoadManyRelated(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	pid := uuid.NewString()
	mock.ExpectQuery("SELECT tags.id, tags.name, pages_tags.page_id AS _memor_group FROM tags JOIN pages_tags ON pages_tags.tag_id = tags.id WHERE pages_tags.page_id = ANY($1::uuid[])").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "_memor_group"}).
			AddRow(uuid.NewString(), "go", pid))

	// Duplicate input ids collapse into one key.
	got, err := pages.LoadManyRelated(context.Background(), "tags", []string{pid, pid})
	require.NoError(t, err)
	require.Len(t, got[pid], 1)
	assert.Equal(t, "go", got[pid][0].Get("name"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadManyRelatedEmptyInput(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	got, err := pages.LoadManyRelated(context.Background(), "tags", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadManyRelatedRequiresJunction(t *testing.T) {
	c, _ := newTestEnv(t)
	pages := testSet(t, c, "pages")

	_, err := pages.LoadManyRelated(context.Background(), "creator", []string{uuid.NewString()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no junction relation")
}

func TestAddManyRelated(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	pid, t1, t2 := uuid.NewString(), uuid.NewString(), uuid.NewString()
	mock.ExpectExec("INSERT INTO pages_tags (page_id, tag_id) VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING").
		WithArgs(pid, t1, pid, t2).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, pages.AddManyRelated(context.Background(), "tags", pid, []string{t1, t2}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddManyRelatedOnConflictError(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	pid, t1 := uuid.NewString(), uuid.NewString()
	mock.ExpectExec("INSERT INTO pages_tags (page_id, tag_id) VALUES ($1, $2)").
		WithArgs(pid, t1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, pages.AddManyRelated(context.Background(), "tags", pid, []string{t1}, OnConflictError()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddManyRelatedEmptyTargets(t *testing.T) {
	c, mock := newTestEnv(t)
	pages := testSet(t, c, "pages")

	require.NoError(t, pages.AddManyRelated(context.Background(), "tags", uuid.NewString(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
