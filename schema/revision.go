package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Storage columns of the revision metadata. Among all physical rows sharing
// a logical document id, at most one has OldRevOf null and RevDeleted false:
// that row is the current revision.
const (
	// RevID is the revision id, unique per physical row.
	RevID = "_rev"
	// RevAuthor is the id of the user who authored the revision.
	RevAuthor = "_rev_author"
	// RevDate is the revision timestamp.
	RevDate = "_rev_date"
	// RevTags is the ordered revision tag list.
	RevTags = "_rev_tags"
	// OldRevOf marks archived copies with the logical document id they
	// belong to. Null on the live row.
	OldRevOf = "_old_rev_of"
	// RevDeleted marks soft-deleted revisions.
	RevDeleted = "_rev_deleted"
	// RevSummary is the optional edit summary, present only when the
	// owning client enables it.
	RevSummary = "_rev_summary"
)

func validateUUIDString(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected uuid string, got %T", v)
	}
	if _, err := uuid.Parse(s); err != nil {
		return nil, fmt.Errorf("malformed uuid %q", s)
	}
	return s, nil
}

func validateOptionalUUID(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return validateUUIDString(v)
}

func validateString(v any) (any, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return nil, fmt.Errorf("expected string, got %T", v)
}

func validateBool(v any) (any, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return nil, fmt.Errorf("expected bool, got %T", v)
}

func validateTime(v any) (any, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	return nil, fmt.Errorf("expected time.Time, got %T", v)
}

func validateStringSlice(v any) (any, error) {
	switch vs := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return vs, nil
	default:
		return nil, fmt.Errorf("expected []string, got %T", v)
	}
}

// RevisionFields returns the revision metadata specs merged into every
// revision-enabled manifest at registration. The storage names double as
// logical names; the leading underscore keeps them clear of application
// fields.
func RevisionFields(includeSummary bool) map[string]*FieldSpec {
	fields := map[string]*FieldSpec{
		RevID: {
			Kind:        KindUUID,
			Validate:    validateUUIDString,
			DefaultFunc: func(Instance) any { return uuid.NewString() },
		},
		RevAuthor: {
			Kind:     KindUUID,
			Validate: validateOptionalUUID,
		},
		RevDate: {
			Kind:        KindTime,
			Validate:    validateTime,
			DefaultFunc: func(Instance) any { return time.Now().UTC() },
		},
		RevTags: {
			Kind:        KindStringArray,
			Validate:    validateStringSlice,
			DefaultFunc: func(Instance) any { return []string{} },
		},
		OldRevOf: {
			Kind:     KindUUID,
			Validate: validateOptionalUUID,
		},
		RevDeleted: {
			Kind:     KindBool,
			Validate: validateBool,
			Default:  false,
		},
	}
	if includeSummary {
		fields[RevSummary] = &FieldSpec{
			Kind: KindString,
			Validate: func(v any) (any, error) {
				if v == nil {
					return "", nil
				}
				return validateString(v)
			},
			Default: "",
		}
	}
	return fields
}

// IsRevisionField reports whether name is one of the revision metadata
// fields. Their storage columns are the names themselves.
func IsRevisionField(name string) bool {
	switch name {
	case RevID, RevAuthor, RevDate, RevTags, OldRevOf, RevDeleted, RevSummary:
		return true
	}
	return false
}

// RevisionColumns returns the revision storage columns, for select sets and
// the insert/update allow-list.
func RevisionColumns(includeSummary bool) []string {
	cols := []string{RevID, RevAuthor, RevDate, RevTags, OldRevOf, RevDeleted}
	if includeSummary {
		cols = append(cols, RevSummary)
	}
	return cols
}
