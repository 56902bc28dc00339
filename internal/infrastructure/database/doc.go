// Package database manages the SQLite store backing the device registry.
//
// It wraps database/sql with lifecycle management (directory creation,
// WAL mode, busy timeout, connection pool tuned for SQLite's single-writer
// model), embedded schema migrations, and startup integrity verification.
//
// A store that fails SQLite's integrity check surfaces ErrCorruptState and
// halts startup: running with an apparently-empty registry after silently
// discarding a damaged file would look like data loss to the operator.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
