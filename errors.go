package memor

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("memor: document not found")

	// ErrRevisionDeleted is returned by guarded reads for documents whose
	// revision history was deleted.
	ErrRevisionDeleted = errors.New("memor: revision deleted")

	// ErrRevisionStale is returned by guarded reads when the requested row
	// is an archived copy superseded by a newer revision.
	ErrRevisionStale = errors.New("memor: revision stale")
)

// NotFoundError is returned when a lookup that expects exactly one row
// matches nothing.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("memor: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("memor: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string { return e.label }

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any { return e.id }

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// InvalidUUIDError is returned when an id argument is not a well-formed
// identifier. It is raised before the value reaches storage.
type InvalidUUIDError struct {
	Value string
}

// Error returns the error string.
func (e *InvalidUUIDError) Error() string {
	return fmt.Sprintf("memor: invalid uuid %q", e.Value)
}

// NewInvalidUUIDError returns a new InvalidUUIDError for the given value.
func NewInvalidUUIDError(value string) *InvalidUUIDError {
	return &InvalidUUIDError{Value: value}
}

// IsInvalidUUID returns true if the error is an InvalidUUIDError.
func IsInvalidUUID(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidUUIDError
	return errors.As(err, &e)
}

// ValidationError represents a validation error for field values.
type ValidationError struct {
	Name string // Field name
	Err  error  // Underlying validation error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("memor: validator failed for field %q: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError returns a new ValidationError for the given field.
func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, Err: err}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// ConnectionError is returned when the storage layer reports an inability
// to connect or an interrupted connection.
type ConnectionError struct {
	Err error
}

// Error returns the error string.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("memor: connection failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError returns true if the error is a ConnectionError.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConnectionError
	return errors.As(err, &e)
}

// ConstraintError represents a uniqueness or foreign-key violation reported
// by the storage layer. Constraint carries the violated constraint's name
// when the storage layer provides one; the message is developer-facing
// diagnostic detail, not end-user language.
type ConstraintError struct {
	msg        string
	constraint string
	wrap       error
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("memor: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e *ConstraintError) Unwrap() error { return e.wrap }

// Constraint returns the violated constraint's name, or "".
func (e *ConstraintError) Constraint() string { return e.constraint }

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg, constraint string, wrap error) *ConstraintError {
	return &ConstraintError{msg: msg, constraint: constraint, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintError
	return errors.As(err, &e)
}

// QueryError wraps an unclassified storage-layer failure.
type QueryError struct {
	Entity string // Entity type being queried, if known
	Op     string // Operation (e.g., "select", "insert", "increment")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	switch {
	case e.Entity != "" && e.Op != "":
		return fmt.Sprintf("memor: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	case e.Entity != "":
		return fmt.Sprintf("memor: querying %s: %v", e.Entity, e.Err)
	default:
		return fmt.Sprintf("memor: query failed: %v", e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// DuplicateSlugNameError is the business-level wrapper callers use to turn
// a uniqueness violation on a slug-like field into user-facing language
// without exposing constraint internals.
type DuplicateSlugNameError struct {
	Field string
	Value string
	wrap  error
}

// Error returns the error string.
func (e *DuplicateSlugNameError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("memor: %s %q is already taken", e.Field, e.Value)
	}
	return fmt.Sprintf("memor: %s is already taken", e.Field)
}

// Unwrap returns the underlying error.
func (e *DuplicateSlugNameError) Unwrap() error { return e.wrap }

// NewDuplicateSlugNameError returns a new DuplicateSlugNameError wrapping
// the given constraint violation.
func NewDuplicateSlugNameError(field, value string, wrap error) *DuplicateSlugNameError {
	return &DuplicateSlugNameError{Field: field, Value: value, wrap: wrap}
}

// IsDuplicateSlugName returns true if the error is a DuplicateSlugNameError.
func IsDuplicateSlugName(err error) bool {
	if err == nil {
		return false
	}
	var e *DuplicateSlugNameError
	return errors.As(err, &e)
}

// RevisionDeletedError is thrown by guarded reads for a document whose
// revision history was deleted: it exists but was removed, as opposed to
// never having existed.
type RevisionDeletedError struct {
	ID string
}

// Error returns the error string.
func (e *RevisionDeletedError) Error() string {
	return fmt.Sprintf("memor: document %s is deleted", e.ID)
}

// Is reports whether the target error matches RevisionDeletedError.
func (e *RevisionDeletedError) Is(err error) bool {
	return err == ErrRevisionDeleted
}

// IsRevisionDeleted returns true if the error is a RevisionDeletedError.
func IsRevisionDeleted(err error) bool {
	if err == nil {
		return false
	}
	var e *RevisionDeletedError
	return errors.As(err, &e) || errors.Is(err, ErrRevisionDeleted)
}

// RevisionStaleError is thrown by guarded reads when the requested physical
// row is an archived copy: the data exists but has been superseded.
type RevisionStaleError struct {
	ID string
}

// Error returns the error string.
func (e *RevisionStaleError) Error() string {
	return fmt.Sprintf("memor: document %s is stale", e.ID)
}

// Is reports whether the target error matches RevisionStaleError.
func (e *RevisionStaleError) Is(err error) bool {
	return err == ErrRevisionStale
}

// IsRevisionStale returns true if the error is a RevisionStaleError.
func IsRevisionStale(err error) bool {
	if err == nil {
		return false
	}
	var e *RevisionStaleError
	return errors.As(err, &e) || errors.Is(err, ErrRevisionStale)
}

// translated reports whether the error is already one of the taxonomy kinds
// so Translate never double-wraps at nested CRUD boundaries.
func translated(err error) bool {
	switch {
	case IsNotFound(err), IsInvalidUUID(err), IsValidationError(err),
		IsConnectionError(err), IsConstraintError(err), IsQueryError(err),
		IsDuplicateSlugName(err), IsRevisionDeleted(err), IsRevisionStale(err):
		return true
	}
	return false
}

// Translate maps a storage-layer error onto the taxonomy, keyed on the
// vendor SQLSTATE code. Callers above this layer never see raw storage
// errors: every CRUD boundary routes failures through here.
func Translate(err error) error {
	if err == nil || translated(err) {
		return err
	}
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		switch {
		case pqe.Code.Class() == "23": // integrity constraint violation
			msg := pqe.Message
			if pqe.Detail != "" {
				msg += ": " + pqe.Detail
			}
			return NewConstraintError(msg, pqe.Constraint, err)
		case pqe.Code == "22P02": // invalid text representation (bad uuid)
			return NewInvalidUUIDError(pqe.Message)
		case pqe.Code.Class() == "08", // connection exception
			pqe.Code.Class() == "28", // invalid authorization
			pqe.Code.Class() == "53", // insufficient resources
			pqe.Code.Class() == "57": // operator intervention
			return &ConnectionError{Err: err}
		default:
			return &QueryError{Err: err}
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return &ConnectionError{Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return &ConnectionError{Err: err}
	}
	return &QueryError{Err: err}
}

// TranslateOp is Translate with entity/operation context attached to
// unclassified failures.
func TranslateOp(entity, op string, err error) error {
	terr := Translate(err)
	var qe *QueryError
	if errors.As(terr, &qe) && qe.Entity == "" && qe.Op == "" {
		return NewQueryError(entity, op, qe.Err)
	}
	return terr
}
