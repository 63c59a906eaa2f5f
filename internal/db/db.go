package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Dialect reports which driver serves a database URL. Anything that is not a
// postgres URL is treated as a SQLite path.
func Dialect(url string) string {
	lower := strings.ToLower(strings.TrimSpace(url))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open connects to Postgres through pgx or to a SQLite file through modernc,
// and pings before returning.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	var (
		database *sql.DB
		err      error
	)
	switch Dialect(url) {
	case DialectPostgres:
		database, err = sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		database.SetMaxOpenConns(10)
		database.SetConnMaxIdleTime(5 * time.Minute)
	default:
		database, err = sql.Open("sqlite", sqlitePath(url))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite serializes writers; :memory: databases also vanish per connection.
		database.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if Dialect(url) == DialectSQLite {
		if _, err := database.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			database.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}
	return database, nil
}

func sqlitePath(url string) string {
	for _, prefix := range []string{"sqlite://", "sqlite3://", "sqlite:"} {
		if strings.HasPrefix(strings.ToLower(url), prefix) {
			return url[len(prefix):]
		}
	}
	return url
}
