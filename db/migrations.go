package db

import (
	"fmt"

	"github.com/bloomnetwork/bloombridge/log"
	migrate "github.com/rubenv/sql-migrate"
)

// RunMigrations applies all the pending migrations of the given source to the
// sqlite DB found at dbPath, creating the file if needed.
func RunMigrations(dbPath string, migrations migrate.MigrationSource) error {
	db, err := NewSQLiteDB(dbPath)
	if err != nil {
		return fmt.Errorf("error creating DB %w", err)
	}
	nMigrations, err := migrate.Exec(db, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return fmt.Errorf("error executing migration %w", err)
	}

	log.Infof("successfully ran %d migrations", nMigrations)
	return nil
}
