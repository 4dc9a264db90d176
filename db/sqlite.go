package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

const (
	UniqueConstrain = 1555
)

// NewSQLiteDB creates a new SQLite DB. The connection pool is capped to a
// single connection so every protocol operation is serialized against the
// shared state it touches.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		pragma journal_mode = WAL;
		pragma synchronous = normal;
		pragma journal_size_limit  = 6144000;
	`)
	return db, err
}
