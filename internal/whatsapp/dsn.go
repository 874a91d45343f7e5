package whatsapp

import (
	"strings"

	// Database drivers for the whatsmeow device store.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names accepted by the whatsmeow sqlstore.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DetectDSNType returns the database/sql driver for dsn: postgres for URL-style or
// key=value PostgreSQL connection strings, sqlite3 for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DriverPostgres
	}
	// libpq key=value form: "host=... user=... dbname=..."
	if !strings.Contains(lower, "://") && !strings.HasPrefix(lower, "file:") {
		for _, field := range strings.Fields(lower) {
			key, _, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			switch key {
			case "host", "user", "dbname", "password", "port", "sslmode":
				return DriverPostgres
			}
		}
	}
	return DriverSQLite
}

// sqliteForeignKeysEnabled reports whether a SQLite DSN turns on foreign keys,
// which whatsmeow requires for its device store.
func sqliteForeignKeysEnabled(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// SQLiteDSN turns a plain file path into a DSN with foreign keys enabled.
// DSNs that already carry parameters or are PostgreSQL are returned unchanged.
func SQLiteDSN(path string) string {
	if DetectDSNType(path) != DriverSQLite || strings.Contains(path, "?") {
		return path
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?_foreign_keys=on"
}
