//go:build !cgo_sqlite

package main

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// initDB opens the cache/stats database with the pure-Go sqlite driver.
func initDB(dataSource string) (*sql.DB, error) {
	return sql.Open("sqlite", dataSource+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
}
