// Package database provides the gateway's SQLite connection and its
// schema migration runner.
//
// The SQLite store backs single-node deployments and tests. Production
// deployments that share the relational store with the web application
// use the Postgres repository in package store instead; this package is
// not involved there.
//
// Migrations are plain SQL files named YYYYMMDD_HHMMSS_description.up.sql
// with an optional matching .down.sql. Each one runs in its own
// transaction and is recorded in schema_migrations. Re-running Migrate
// after a failure continues from the migration that failed.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/gateway.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
package database
