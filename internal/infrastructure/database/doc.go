// Package database opens the bridge's SQLite file and applies embedded
// schema migrations.
//
// The database holds the attribute change journal (see internal/history).
// It never seeds live fireplace state: after a restart the state store is
// rebuilt from what the controller reports.
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Status reports applied and pending versions; Rollback reverts the newest
// one and backs the "proflamed migrate down" command.
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are registered by the migrations package.
package database
