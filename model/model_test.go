package model

import (
	stdsql "database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/syssam/memor/dialect"
	"github.com/syssam/memor/dialect/sql"
	"github.com/syssam/memor/schema"
)

// mockClient is the minimal Client over a sqlmock-backed driver.
type mockClient struct {
	drv dialect.Driver
	reg *schema.Registry
}

func (c *mockClient) Driver() dialect.Driver     { return c.drv }
func (c *mockClient) Registry() *schema.Registry { return c.reg }

// newTestEnv returns a client over sqlmock with exact query matching, so
// tests assert the rendered SQL verbatim.
func newTestEnv(t *testing.T) (*mockClient, sqlmock.Sqlmock) {
	t.Helper()
	return newEnv(t, true, false)
}

// newRegexpEnv uses the default regexp matcher for flows where the exact
// statement text is not the point.
func newRegexpEnv(t *testing.T) (*mockClient, sqlmock.Sqlmock) {
	t.Helper()
	return newEnv(t, false, false)
}

func newEnv(t *testing.T, exact, summary bool) (*mockClient, sqlmock.Sqlmock) {
	t.Helper()
	var (
		db   *stdsql.DB
		mock sqlmock.Sqlmock
		err  error
	)
	if exact {
		db, mock, err = sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	} else {
		db, mock, err = sqlmock.New()
	}
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg := schema.NewRegistry(schema.RegistryOptions{RevisionSummary: summary})
	for _, m := range fixtureManifests() {
		require.NoError(t, reg.Register(m))
	}
	return &mockClient{drv: sql.OpenDB(dialect.Postgres, db), reg: reg}, mock
}

func testSet(t *testing.T, c *mockClient, key string) *Set {
	t.Helper()
	s, err := NewSet(c, key)
	require.NoError(t, err)
	return s
}

func fixtureManifests() []*schema.Manifest {
	return []*schema.Manifest{
		pagesManifest(),
		usersManifest(),
		tagsManifest(),
		eventsManifest(),
	}
}

func pagesManifest() *schema.Manifest {
	return &schema.Manifest{
		Table:     "pages",
		Alias:     "page",
		Revisions: true,
		Fields: map[string]*schema.FieldSpec{
			"id": {
				Kind:        schema.KindUUID,
				DefaultFunc: func(schema.Instance) any { return uuid.NewString() },
			},
			"title": {
				Kind: schema.KindString,
				Validate: func(v any) (any, error) {
					s, ok := v.(string)
					if !ok {
						return nil, fmt.Errorf("expected string, got %T", v)
					}
					return strings.TrimSpace(s), nil
				},
			},
			"viewCount":  {Kind: schema.KindInt, Default: int64(0)},
			"urls":       {Kind: schema.KindStringArray},
			"meta":       {Kind: schema.KindJSON},
			"category":   {Kind: schema.KindString},
			"secretNote": {Kind: schema.KindString, Sensitive: true},
			"authorId":   {Kind: schema.KindUUID},
			"slug": {
				Kind:    schema.KindString,
				Virtual: true,
				DefaultFunc: func(r schema.Instance) any {
					title, _ := r.Get("title").(string)
					return strings.ToLower(strings.ReplaceAll(title, " ", "-"))
				},
			},
		},
		Relations: map[string]*schema.Relation{
			"creator": {Target: "users", SourceColumn: "author_id"},
			"tags": {
				Target: "tags",
				Through: &schema.Junction{
					Table:        "pages_tags",
					SourceColumn: "page_id",
					TargetColumn: "tag_id",
				},
			},
		},
		Views: map[string][]string{
			"summary": {"id", "title"},
		},
	}
}

func usersManifest() *schema.Manifest {
	return &schema.Manifest{
		Table: "users",
		Fields: map[string]*schema.FieldSpec{
			"id": {
				Kind:        schema.KindUUID,
				DefaultFunc: func(schema.Instance) any { return uuid.NewString() },
			},
			"name": {Kind: schema.KindString},
		},
	}
}

func tagsManifest() *schema.Manifest {
	return &schema.Manifest{
		Table: "tags",
		Fields: map[string]*schema.FieldSpec{
			"id":   {Kind: schema.KindUUID},
			"name": {Kind: schema.KindString},
		},
	}
}

func eventsManifest() *schema.Manifest {
	return &schema.Manifest{
		Table: "events",
		Fields: map[string]*schema.FieldSpec{
			"id": {
				Kind:        schema.KindUUID,
				DefaultFunc: func(schema.Instance) any { return uuid.NewString() },
			},
			"createdAt": {Kind: schema.KindTime},
			"score":     {Kind: schema.KindFloat},
		},
	}
}

// pagesColumns is the default select set of the pages fixture, in the
// builder's deterministic order.
var pagesColumns = []string{
	"_old_rev_of", "_rev", "_rev_author", "_rev_date", "_rev_deleted",
	"_rev_tags", "author_id", "category", "id", "meta", "title", "urls",
	"view_count",
}

func qualifiedPagesColumns() string {
	out := make([]string, len(pagesColumns))
	for i, c := range pagesColumns {
		out[i] = "pages." + c
	}
	return strings.Join(out, ", ")
}

// hydratePage hydrates a pages record with complete live revision metadata,
// so the revision-field validators accept a subsequent save.
func hydratePage(t *testing.T, pages *Set, overrides map[string]any) *Record {
	t.Helper()
	row := map[string]any{
		"_old_rev_of":  nil,
		"_rev":         uuid.NewString(),
		"_rev_author":  nil,
		"_rev_date":    time.Now().UTC(),
		"_rev_deleted": false,
		"_rev_tags":    []string{},
		"title":        "untitled",
	}
	for k, v := range overrides {
		row[k] = v
	}
	r, err := pages.hydrate(row)
	require.NoError(t, err)
	return r
}

// pageRow builds a sqlmock result row for the pages fixture with live
// revision metadata and the given overrides.
func pageRow(overrides map[string]any) ([]string, []driver.Value) {
	values := map[string]any{
		"_old_rev_of":  nil,
		"_rev":         uuid.NewString(),
		"_rev_author":  nil,
		"_rev_date":    nil,
		"_rev_deleted": false,
		"_rev_tags":    "{}",
		"author_id":    nil,
		"category":     nil,
		"id":           uuid.NewString(),
		"meta":         nil,
		"title":        "untitled",
		"urls":         nil,
		"view_count":   int64(0),
	}
	for k, v := range overrides {
		values[k] = v
	}
	row := make([]driver.Value, len(pagesColumns))
	for i, c := range pagesColumns {
		row[i] = values[c]
	}
	return pagesColumns, row
}
