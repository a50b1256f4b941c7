package model

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/memor"
	"github.com/syssam/memor/dialect/sql"
	"github.com/syssam/memor/schema"
)

// RevOpts carries the caller-supplied metadata of a revision stamp.
// Summary is only accepted when revision summaries are enabled on the
// client.
type RevOpts struct {
	Tags    []string
	Summary string
}

func (s *Set) requireRevisions(op string) error {
	if !s.manifest.Revisions {
		return fmt.Errorf("model: %s on %s, which is not revision-enabled", op, s.Table())
	}
	return nil
}

func (s *Set) revisionStamp(author string, opts RevOpts) (map[string]any, error) {
	values := map[string]any{
		schema.RevAuthor: author,
	}
	if opts.Tags != nil {
		values[schema.RevTags] = opts.Tags
	}
	if opts.Summary != "" {
		if !s.client.Registry().RevisionSummary() {
			return nil, fmt.Errorf("model: revision summaries are not enabled")
		}
		values[schema.RevSummary] = opts.Summary
	}
	return values, nil
}

// CreateFirstRevision builds a fresh, not-yet-persisted record stamped
// with the author, tags and a new revision id. The caller populates the
// record and saves it to produce the initial live row.
func (s *Set) CreateFirstRevision(author string, opts RevOpts) (*Record, error) {
	if err := s.requireRevisions("createFirstRevision"); err != nil {
		return nil, err
	}
	values, err := s.revisionStamp(author, opts)
	if err != nil {
		return nil, err
	}
	return s.New(values)
}

// NewRevision archives the record's current state as a historical row and
// re-stamps the receiver with fresh revision metadata. The receiver stays
// the live row: the caller mutates it and saves to publish the new
// revision.
func (r *Record) NewRevision(ctx context.Context, author string, opts RevOpts) error {
	if err := r.set.requireRevisions("newRevision"); err != nil {
		return err
	}
	if r.isNew {
		return fmt.Errorf("model: newRevision on an unsaved %s record", r.set.Table())
	}
	id := r.ID()
	if id == "" {
		return fmt.Errorf("model: newRevision on a %s record without an id", r.set.Table())
	}

	archived := make(map[string]any, len(r.data))
	for col, v := range r.data {
		if col == "id" {
			continue
		}
		cv, err := r.cloneColumn(col, v)
		if err != nil {
			return err
		}
		archived[col] = cv
	}
	archived[schema.OldRevOf] = id
	arch, err := r.set.New(archived)
	if err != nil {
		return err
	}
	if err := arch.Save(ctx); err != nil {
		return err
	}

	stamp, err := r.set.revisionStamp(author, opts)
	if err != nil {
		return err
	}
	stamp[schema.RevID] = uuid.NewString()
	stamp[schema.RevDate] = time.Now().UTC()
	if _, ok := stamp[schema.RevTags]; !ok {
		stamp[schema.RevTags] = []string{}
	}
	for name, v := range stamp {
		if err := r.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// cloneColumn deep-copies compound values so the archived row shares no
// nested state with the live record.
func (r *Record) cloneColumn(col string, v any) (any, error) {
	name, ok := r.set.manifest.LogicalName(col)
	if !ok {
		return v, nil
	}
	spec := r.set.manifest.Field(name)
	if spec == nil {
		return v, nil
	}
	switch spec.Kind {
	case schema.KindStringArray:
		ss, err := toStringSlice(v)
		if err != nil {
			return nil, fmt.Errorf("model: %s: %w", col, err)
		}
		out := make([]string, len(ss))
		copy(out, ss)
		return out, nil
	case schema.KindIntArray, schema.KindJSON:
		return cloneValue(v)
	}
	return v, nil
}

// DeleteAllRevisions retires a logical document: it records one final
// revision tagged "delete", marks it deleted, saves it, then marks every
// archived row of the document deleted as well. It returns the receiver,
// now the deletion revision.
func (r *Record) DeleteAllRevisions(ctx context.Context, author string, opts RevOpts) (*Record, error) {
	if err := r.set.requireRevisions("deleteAllRevisions"); err != nil {
		return nil, err
	}
	id := r.ID()
	tags := append([]string{"delete"}, opts.Tags...)
	if err := r.NewRevision(ctx, author, RevOpts{Tags: tags, Summary: opts.Summary}); err != nil {
		return nil, err
	}
	if err := r.Set(schema.RevDeleted, true); err != nil {
		return nil, err
	}
	if err := r.Save(ctx); err != nil {
		return nil, err
	}

	upd := sql.Update(r.set.Table()).
		Set(schema.RevDeleted, true).
		Where(sql.EQ(schema.OldRevOf, id))
	query, args, err := upd.Query()
	if err != nil {
		return nil, err
	}
	if err := r.set.exec(ctx, "update", query, args, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// GetNotStaleOrDeleted fetches a row by physical id ignoring the default
// revision guards and classifies the outcome: a deleted document raises
// RevisionDeletedError, an archived copy raises RevisionStaleError, and
// only the live row is returned. A malformed id is rejected before any
// SQL is issued.
func (s *Set) GetNotStaleOrDeleted(ctx context.Context, id string) (*Record, error) {
	if err := s.requireRevisions("getNotStaleOrDeleted"); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, memor.NewInvalidUUIDError(id)
	}
	rec, err := newQuery(s).
		Where(Literal{"id": id}).
		IncludeDeleted().
		IncludeStale().
		First(ctx)
	if err != nil {
		return nil, err
	}
	if deleted, ok := rec.Get(schema.RevDeleted).(bool); ok && deleted {
		return nil, &memor.RevisionDeletedError{ID: id}
	}
	if rec.Get(schema.OldRevOf) != nil {
		return nil, &memor.RevisionStaleError{ID: id}
	}
	return rec, nil
}

// GetMultipleNotStaleOrDeleted returns a query pre-filtered to the given
// physical ids with the standard live-only guards still in effect. An
// empty id list yields a query whose terminals return empty results
// without touching storage.
func (s *Set) GetMultipleNotStaleOrDeleted(ids []string) *Query {
	q := newQuery(s)
	if err := s.requireRevisions("getMultipleNotStaleOrDeleted"); err != nil {
		return q.fail(err)
	}
	if len(ids) == 0 {
		q.zero = true
		return q
	}
	return q.Where(Literal{"id": In(ids, Cast("::uuid[]"))})
}
