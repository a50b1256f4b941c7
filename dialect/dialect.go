// Package dialect defines the driver abstraction consumed by the memor
// runtime. The storage collaborator is anything that can execute
// parameterized SQL and hand back rows; the concrete implementation for
// database/sql lives in dialect/sql.
package dialect

import "context"

// Postgres is the only dialect memor targets. Array operators, JSONB
// containment and RETURNING semantics are assumed throughout the SQL layer.
const Postgres = "postgres"

// ExecQuerier wraps the basic Exec and Query methods.
//
// The "v" argument of Exec is either nil or a *sql.Result, and the "v"
// argument of Query is expected to be a *sql.Rows. The odd shape keeps the
// interface free of database/sql types so it can be decorated (see
// dialect/sql.StatsDriver) without importing the concrete row types.
type ExecQuerier interface {
	// Exec executes a statement that does not return rows.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the minimal interface the memor runtime requires from its
// storage collaborator.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	// The provided context is used until the transaction is committed or rolled back.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps transaction behavior on top of ExecQuerier. Transaction scoping
// is a caller concern: the revision engine never opens transactions on its
// own (see the concurrency notes in the model package).
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

type nopTx struct {
	Driver
}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

// NopTx returns a Tx with a no-op Commit and Rollback.
func NopTx(d Driver) Tx {
	return nopTx{d}
}
