package model

import (
	"context"
	"fmt"
)

// FeedDirection orders a chronological feed.
type FeedDirection string

const (
	FeedAscending  FeedDirection = "asc"
	FeedDescending FeedDirection = "desc"
)

// FeedOpts configures ChronologicalFeed. CursorField names the temporal
// field the feed is ordered by; Cursor, when set, resumes after it.
type FeedOpts struct {
	CursorField string
	Cursor      any
	Direction   FeedDirection
	Limit       int
}

// FeedPage is one page of a cursor-paginated feed. NextCursor holds the
// cursor-field value of the last returned record when more rows exist.
type FeedPage struct {
	Records    []*Record
	HasMore    bool
	NextCursor any
}

// ChronologicalFeed pages over the matching rows by a temporal cursor
// field. It fetches one row beyond the requested limit to learn whether a
// further page exists without a second query. A zero limit returns an
// empty page without querying.
func (q *Query) ChronologicalFeed(ctx context.Context, opts FeedOpts) (*FeedPage, error) {
	if q.err != nil {
		return nil, q.err
	}
	if opts.CursorField == "" {
		return nil, fmt.Errorf("model: chronologicalFeed requires a cursor field")
	}
	if opts.Limit <= 0 {
		return &FeedPage{Records: []*Record{}}, nil
	}
	if _, spec, err := q.resolve(opts.CursorField); err != nil {
		return nil, err
	} else if !spec.Kind.Orderable() {
		return nil, fmt.Errorf("model: chronologicalFeed requires an orderable cursor field, %s is %s", opts.CursorField, spec.Kind)
	}

	desc := opts.Direction == FeedDescending
	if opts.Cursor != nil {
		cmp := Gt(opts.Cursor)
		if desc {
			cmp = Lt(opts.Cursor)
		}
		q.Where(Literal{opts.CursorField: cmp})
	}
	if desc {
		q.OrderByDesc(opts.CursorField)
	} else {
		q.OrderBy(opts.CursorField)
	}
	records, err := q.Limit(opts.Limit + 1).Run(ctx)
	if err != nil {
		return nil, err
	}
	page := &FeedPage{Records: records}
	if len(records) > opts.Limit {
		page.Records = records[:opts.Limit]
		page.HasMore = true
		page.NextCursor = page.Records[len(page.Records)-1].Get(opts.CursorField)
	}
	return page, nil
}
