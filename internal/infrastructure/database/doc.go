// Package database provides the SQLite store behind octobridge's channel
// registry.
//
// The bridge persists every slot it has created on the host side so a
// restart does not re-announce channels that already exist. The schema is
// small and owned by the migrations package, which registers its embedded
// SQL files here at init time.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Each migration is applied in its own transaction.
package database
