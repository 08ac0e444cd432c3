// Package database provides SQLite connectivity for the gateway's node
// registry, reading history and command log.
//
// Connections use WAL mode and a busy timeout so HTTP API reads can run
// while the control loop records readings. All queries use parameterised
// statements. The database file is created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
