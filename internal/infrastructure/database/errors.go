package database

import "errors"

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCorruptState indicates the durable store is unreadable or failed
	// its integrity check. This is fatal at startup: the operator must
	// repair or remove the store rather than have the scanner silently
	// run with an empty registry.
	ErrCorruptState = errors.New("database: corrupt state")

	// ErrMigrationFailed indicates a schema migration could not be applied.
	ErrMigrationFailed = errors.New("database: migration failed")
)
