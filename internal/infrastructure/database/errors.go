package database

import "errors"

var (
	// ErrNoPath is returned by Open when Config.Path is empty.
	ErrNoPath = errors.New("database: path is required")

	// ErrMissingDown is returned by MigrateDown when the latest applied
	// migration has no .down.sql file.
	ErrMissingDown = errors.New("database: migration has no down script")

	// ErrMissingUp is returned when a .down.sql file has no matching .up.sql.
	ErrMissingUp = errors.New("database: migration has no up script")
)
