// Package store is the gateway's relational persistence layer.
//
// Two implementations of Repository exist: SQLiteRepository for
// single-node deployments over the embedded database, and
// PostgresRepository for the Postgres store shared with the web
// application. Both are idempotent on write: readings upsert on
// (module_id, period_start, period_end) and state changes are ignored
// when already present, so a re-delivered batch never duplicates rows.
package store
