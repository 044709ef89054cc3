package database

import (
	"database/sql"
	"fmt"
	"time"

	// MySQL driver registration for the marketplace's primary store.
	_ "github.com/go-sql-driver/mysql"
)

// Open connects to the marketplace MySQL instance and verifies connectivity
// once. The returned *sql.DB satisfies Client.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
