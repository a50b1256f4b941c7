// Package sql provides the SQL building and execution primitives of memor.
//
// It targets PostgreSQL only: $n placeholders, array operators (@>, &&),
// JSONB containment and RETURNING are assumed. Values are always bound as
// parameters; identifiers are validated before they are embedded.
//
// # Builder Types
//
//   - Builder: low-level statement assembly with identifier validation
//   - Selector: SELECT builder with joins, predicates, grouping, pagination
//   - InsertBuilder: INSERT builder with multi-row VALUES and RETURNING
//   - UpdateBuilder: UPDATE builder with Set/Add (atomic increment) clauses
//   - DeleteBuilder: DELETE builder with WHERE predicates
//
// # Predicates
//
// Predicates are composable tree nodes rendered at build time, so their
// placeholder numbering follows the statement they end up in:
//
//	sql.EQ("status", "active")                 // status = $1
//	sql.And(sql.GTE("age", 18), sql.LT("age", 65))
//	sql.EQAny("id", pq.Array(ids), "::uuid[]") // id = ANY($1::uuid[])
//	sql.ArrayContains("urls", pq.Array(urls))  // urls @> $1
//	sql.JSONContains("meta", data)             // meta @> $1::jsonb
//
// # Execution
//
// Driver, Conn and Tx adapt database/sql to the dialect interfaces consumed
// by the model runtime. StatsDriver decorates any driver with counters and
// slow-query logging.
package sql
