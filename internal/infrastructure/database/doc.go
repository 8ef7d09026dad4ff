// Package database provides SQLite connectivity for the bridge.
//
// It manages:
//   - the connection, with WAL mode so API reads do not block session writes
//   - versioned schema migrations read from an fs.FS (see the migrations
//     package for the embedded set)
//   - health checks and lifecycle
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
